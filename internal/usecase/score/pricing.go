package score

import (
	"math"

	"powerfeed/internal/domain"
)

// Price считает цену реакции по формуле.
func Price(formula domain.ScoreFormula, set domain.ScoreSet) int64 {
	switch formula {
	case domain.FormulaDual:
		return floorPoints(set.Secondary + set.Builder)
	case domain.FormulaVersioned:
		return floorPoints(set.Tertiary)
	default:
		return floorPoints(set.Primary)
	}
}

func floorPoints(value float64) int64 {
	return int64(math.Floor(value / 2 * 10))
}

// normalizeReputation заменяет неположительную репутацию на 1.
func normalizeReputation(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 1
	}
	return v
}

// normalizeBuilder обрезает отрицательный builder score до 0.
func normalizeBuilder(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func firstKnown(values ...*float64) float64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 1
}

// FromRecord раскрывает nullable поля записи с подстановкой ближайшего соседа.
func FromRecord(rec domain.UserScoreRecord) domain.ScoreSet {
	set := domain.ScoreSet{
		Primary:       normalizeReputation(firstKnown(rec.PrimaryScore, rec.SecondaryScore, rec.TertiaryScore)),
		Secondary:     normalizeReputation(firstKnown(rec.SecondaryScore, rec.PrimaryScore, rec.TertiaryScore)),
		Tertiary:      normalizeReputation(firstKnown(rec.TertiaryScore, rec.SecondaryScore, rec.PrimaryScore)),
		TertiaryKnown: rec.TertiaryScore != nil,
		Persisted:     true,
	}
	if rec.BuilderScore != nil {
		set.Builder = normalizeBuilder(*rec.BuilderScore)
	}
	return set
}

// DefaultScoreSet используется, когда пользователя не удалось найти.
func DefaultScoreSet() domain.ScoreSet {
	return domain.ScoreSet{Primary: 1, Secondary: 1, Tertiary: 1, Builder: 0, TertiaryKnown: true}
}
