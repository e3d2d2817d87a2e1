package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"powerfeed/internal/domain"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ReactionRepo      = (*Postgres)(nil)
	_ domain.ScoreRepo         = (*ScoreStore)(nil)
	_ domain.LedgerRepo        = (*LedgerStore)(nil)
	_ domain.LeaderboardReader = (*LedgerStore)(nil)
)

// insertChunk ограничивает размер одного pgx.Batch.
const insertChunk = 500

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Scores возвращает хранилище записей о репутации.
func (p *Postgres) Scores() *ScoreStore {
	return &ScoreStore{pg: p}
}

// Ledger возвращает хранилище лидерборда.
func (p *Postgres) Ledger() *LedgerStore {
	return &LedgerStore{pg: p}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// longCtx используется для полных выборок, которые могут идти дольше пяти секунд.
func (p *Postgres) longCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Minute)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
