package domain

import (
	"context"
	"time"
)

// EventSource выгружает сырые ответы за интервал. Частичных данных не возвращает.
type EventSource interface {
	FetchReplies(ctx context.Context, since, until time.Time) ([]ReplyEvent, error)
}

// ProfileLookup получает профиль пользователя.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, fid int64) (Profile, error)
}

// ReputationLookup получает числовую репутацию пользователя через задачу с опросом статуса.
type ReputationLookup interface {
	LookupReputation(ctx context.Context, fid int64) (float64, error)
}

// BuilderLookup получает builder score для адреса кошелька.
type BuilderLookup interface {
	BuilderScore(ctx context.Context, address string) (float64, error)
}

// PowerUserSource отдаёт полный список power-пользователей у провайдера.
type PowerUserSource interface {
	ListPowerUsers(ctx context.Context) ([]int64, error)
}

// PowerUserSet хранит снимок power-пользователей.
type PowerUserSet interface {
	Snapshot(ctx context.Context) (PowerUserSnapshot, error)
	Replace(ctx context.Context, fids []int64, fetchedAt time.Time) error
}

// ReactionRepo хранит сырые и отфильтрованные ответы.
type ReactionRepo interface {
	// LatestAccepted возвращает максимальный cast_timestamp среди принятых ответов.
	LatestAccepted(ctx context.Context) (time.Time, bool, error)
	// InsertFiltered сохраняет ответы, пропуская уже известные cast_hash. Возвращает число вставленных.
	InsertFiltered(ctx context.Context, reactions []FilteredReaction) (int, error)
	ArchiveRaw(ctx context.Context, events []ReplyEvent) (int, error)
	// ListAcceptedAfter читает ответы по ключу (cast_timestamp, cast_hash) строго после курсора.
	ListAcceptedAfter(ctx context.Context, after ReactionCursor, limit int) ([]FilteredReaction, error)
	// ListUnknownFids возвращает fid из принятых ответов без записи о репутации.
	ListUnknownFids(ctx context.Context) ([]int64, error)
}

// ReactionCursor: позиция в потоке принятых ответов. Нулевое значение означает начало.
type ReactionCursor struct {
	Timestamp time.Time
	CastHash  string
}

// ScoreRepo хранит записи о репутации.
type ScoreRepo interface {
	ListAll(ctx context.Context) ([]UserScoreRecord, error)
	Get(ctx context.Context, fid int64) (UserScoreRecord, error)
	// Insert создаёт запись. При конфликте по fid возвращает false без ошибки.
	Insert(ctx context.Context, record UserScoreRecord) (bool, error)
}

// LedgerRepo хранит лидерборд.
type LedgerRepo interface {
	ListAll(ctx context.Context) ([]PointsLedgerEntry, error)
	Insert(ctx context.Context, entry PointsLedgerEntry) error
	Update(ctx context.Context, entry PointsLedgerEntry) error
	ListPoints(ctx context.Context) ([]LedgerPoints, error)
	// WriteRanks записывает ранги одной транзакцией.
	WriteRanks(ctx context.Context, updates []RankUpdate) error
}

// LeaderboardReader отдаёт лидерборд внешнему слою.
type LeaderboardReader interface {
	Leaderboard(ctx context.Context, limit, offset int) ([]PointsLedgerEntry, error)
	GetByFid(ctx context.Context, fid int64) (PointsLedgerEntry, error)
	GetByToken(ctx context.Context, token string) (PointsLedgerEntry, error)
}

// RunLock не даёт двум процессам выполнять пайплайн одновременно.
type RunLock interface {
	// Acquire возвращает ErrLockHeld, если блокировка занята.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// ReleaseFunc освобождает блокировку, только если она всё ещё принадлежит владельцу.
type ReleaseFunc func(ctx context.Context) error
