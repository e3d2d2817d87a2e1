package domain

import "time"

// ReplyEvent описывает ответ на каст из внешней выгрузки.
type ReplyEvent struct {
	CastFid               int64
	CastHash              string
	CastTimestamp         time.Time
	OriginalCastHash      string
	OriginalCastTimestamp time.Time
	ReplyFromFid          int64
	ReplyToFid            int64
	ReactionGiverUsername string
	ReplyText             string
	CastLink              string
}

// FilteredReaction: ответ, прошедший фильтр квот и дублей.
// Уникален по CastHash.
type FilteredReaction = ReplyEvent

// UserScoreRecord хранит профиль и репутацию пользователя.
// Поля репутации nullable: версии скоринга появлялись постепенно.
type UserScoreRecord struct {
	Fid             int64
	Username        string
	ProfileImageURL string
	PrimaryScore    *float64
	SecondaryScore  *float64
	TertiaryScore   *float64
	BuilderScore    *float64
	AccessToken     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PointsLedgerEntry: строка лидерборда.
type PointsLedgerEntry struct {
	ID                int64
	Fid               int64
	Points            int64
	ReactionsSent     int64
	ReactionsReceived int64
	Rank              int64
	Username          string
	ProfileImageURL   string
	AccessToken       string
	UpdatedAt         time.Time
}

// Profile: данные пользователя из внешнего сервиса профилей.
type Profile struct {
	Fid               int64
	Username          string
	ProfileImageURL   string
	VerifiedAddresses []string
}

// ScoreSet содержит разрешённые значения репутации для расчёта цены.
// TertiaryKnown == false означает, что третья версия скоринга в хранилище пуста
// и значение Tertiary подставлено из соседних полей.
type ScoreSet struct {
	Primary       float64
	Secondary     float64
	Tertiary      float64
	Builder       float64
	TertiaryKnown bool
	// Persisted == false: запись не найдена и не создана (таймаут или ошибка поиска).
	Persisted bool
}

// PowerUserSnapshot: снимок множества power-пользователей.
type PowerUserSnapshot struct {
	Fids      map[int64]struct{}
	FetchedAt time.Time
}

// Contains проверяет принадлежность fid снимку.
func (s PowerUserSnapshot) Contains(fid int64) bool {
	_, ok := s.Fids[fid]
	return ok
}

// RankUpdate: новое значение ранга для строки лидерборда.
type RankUpdate struct {
	ID   int64
	Rank int64
}

// LedgerPoints: минимальная проекция лидерборда для ранжирования.
type LedgerPoints struct {
	ID     int64
	Points int64
}
