package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ScoreFormula выбирает правило расчёта цены реакции.
type ScoreFormula string

const (
	// FormulaLegacy: floor(primary / 2 * 10).
	FormulaLegacy ScoreFormula = "legacy"
	// FormulaDual: floor((secondary + builder) / 2 * 10).
	FormulaDual ScoreFormula = "dual"
	// FormulaVersioned: floor(tertiary / 2 * 10).
	FormulaVersioned ScoreFormula = "versioned"
)

// Valid сообщает, известна ли формула.
func (f ScoreFormula) Valid() bool {
	switch f {
	case FormulaLegacy, FormulaDual, FormulaVersioned:
		return true
	}
	return false
}

// DayBoundaryOffset: операционные сутки начинаются в 16:00 UTC.
const DayBoundaryOffset = 16 * time.Hour

// AdjustedDay возвращает ключ операционных суток (YYYY-MM-DD) для момента t.
func AdjustedDay(t time.Time) string {
	return t.UTC().Add(-DayBoundaryOffset).Format("2006-01-02")
}

// Regime описывает квоты ответов, действующие начиная с EffectiveFrom (включительно).
type Regime struct {
	Name                string
	EffectiveFrom       time.Time
	QuotaForPowerUser   int
	QuotaForRegularUser int
}

// Quota возвращает дневной лимит для класса пользователя.
func (r Regime) Quota(powerUser bool) int {
	if powerUser {
		return r.QuotaForPowerUser
	}
	return r.QuotaForRegularUser
}

// PriceWindow задаёт формулу цены на полуинтервале [Start, End).
// Нулевой End означает открытый конец.
type PriceWindow struct {
	Formula ScoreFormula
	Start   time.Time
	End     time.Time
}

func (w PriceWindow) covers(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// RegimeTable: упорядоченная таблица квот и независимое расписание формул цены.
type RegimeTable struct {
	regimes []Regime
	prices  []PriceWindow
	// fallback применяется вне всех окон цены.
	fallback ScoreFormula
}

var (
	// ErrEmptyRegimeTable возвращается, если в таблице нет ни одного режима.
	ErrEmptyRegimeTable = errors.New("regime table is empty")
)

// NewRegimeTable проверяет и сортирует режимы и окна цены.
func NewRegimeTable(regimes []Regime, prices []PriceWindow, fallback ScoreFormula) (RegimeTable, error) {
	if len(regimes) == 0 {
		return RegimeTable{}, ErrEmptyRegimeTable
	}
	if fallback == "" {
		fallback = FormulaLegacy
	}
	if !fallback.Valid() {
		return RegimeTable{}, fmt.Errorf("unknown fallback formula %q", fallback)
	}
	rs := append([]Regime(nil), regimes...)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].EffectiveFrom.Before(rs[j].EffectiveFrom) })
	for i, r := range rs {
		if r.QuotaForPowerUser < 0 || r.QuotaForRegularUser < 0 {
			return RegimeTable{}, fmt.Errorf("regime %q: negative quota", r.Name)
		}
		if i > 0 && r.EffectiveFrom.Equal(rs[i-1].EffectiveFrom) {
			return RegimeTable{}, fmt.Errorf("regime %q: duplicate effective_from %s", r.Name, r.EffectiveFrom.Format(time.RFC3339))
		}
	}
	ps := append([]PriceWindow(nil), prices...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Start.Before(ps[j].Start) })
	for i, p := range ps {
		if !p.Formula.Valid() {
			return RegimeTable{}, fmt.Errorf("price window %d: unknown formula %q", i, p.Formula)
		}
		if !p.End.IsZero() && !p.End.After(p.Start) {
			return RegimeTable{}, fmt.Errorf("price window %d: end must be after start", i)
		}
		if i > 0 {
			prev := ps[i-1]
			if prev.End.IsZero() || prev.End.After(p.Start) {
				return RegimeTable{}, fmt.Errorf("price window %d overlaps window %d", i, i-1)
			}
		}
	}
	return RegimeTable{regimes: rs, prices: ps, fallback: fallback}, nil
}

// RegimeAt возвращает индекс и режим, действующий в момент t.
// Моменты раньше первого режима относятся к первому режиму.
func (t RegimeTable) RegimeAt(at time.Time) (int, Regime) {
	idx := sort.Search(len(t.regimes), func(i int) bool { return t.regimes[i].EffectiveFrom.After(at) }) - 1
	if idx < 0 {
		idx = 0
	}
	return idx, t.regimes[idx]
}

// FormulaAt возвращает формулу цены для момента t.
func (t RegimeTable) FormulaAt(at time.Time) ScoreFormula {
	for _, w := range t.prices {
		if w.covers(at) {
			return w.Formula
		}
	}
	return t.fallback
}

// Regimes возвращает копию режимов в порядке действия.
func (t RegimeTable) Regimes() []Regime {
	return append([]Regime(nil), t.regimes...)
}

func mustUTC(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return ts.UTC()
}

// Границы режимов по умолчанию.
var (
	CutoffPowerQuotas  = mustUTC("2024-06-05T16:00:00Z")
	CutoffQuotaRevise  = mustUTC("2024-06-10T18:00:00Z")
	CutoffQuotaTighten = mustUTC("2024-07-01T16:00:00Z")
	CutoffVersioned    = mustUTC("2024-08-01T16:00:00Z")
)

// DefaultRegimes: таблица квот по умолчанию. Достоверна только граница 2024-06-05T16:00Z (10/5, до неё 3/3);
// остальные режимы заданы как значения по умолчанию и переопределяются файлом REGIMES_FILE.
func DefaultRegimes() []Regime {
	return []Regime{
		{Name: "launch", EffectiveFrom: time.Time{}, QuotaForPowerUser: 3, QuotaForRegularUser: 3},
		{Name: "power-quotas", EffectiveFrom: CutoffPowerQuotas, QuotaForPowerUser: 10, QuotaForRegularUser: 5},
		{Name: "quota-revise", EffectiveFrom: CutoffQuotaRevise, QuotaForPowerUser: 15, QuotaForRegularUser: 5},
		{Name: "quota-tighten", EffectiveFrom: CutoffQuotaTighten, QuotaForPowerUser: 5, QuotaForRegularUser: 3},
	}
}

// DefaultPriceWindows: расписание формул по умолчанию, переопределяется файлом REGIMES_FILE.
// Между окнами действует legacy.
func DefaultPriceWindows() []PriceWindow {
	return []PriceWindow{
		{Formula: FormulaDual, Start: CutoffQuotaRevise, End: CutoffQuotaTighten},
		{Formula: FormulaVersioned, Start: CutoffVersioned},
	}
}

// DefaultRegimeTable собирает таблицу по умолчанию.
func DefaultRegimeTable() RegimeTable {
	table, err := NewRegimeTable(DefaultRegimes(), DefaultPriceWindows(), FormulaLegacy)
	if err != nil {
		panic(err)
	}
	return table
}
