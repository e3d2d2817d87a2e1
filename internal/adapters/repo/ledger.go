package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// LedgerStore хранит лидерборд points_ledger.
type LedgerStore struct {
	pg *Postgres
}

const ledgerColumns = `id, fid, points, reactions_sent, reactions_received, rank, username,
    profile_image_url, access_token, updated_at`

func scanLedger(row pgx.Row) (domain.PointsLedgerEntry, error) {
	var e domain.PointsLedgerEntry
	err := row.Scan(&e.ID, &e.Fid, &e.Points, &e.ReactionsSent, &e.ReactionsReceived, &e.Rank, &e.Username,
		&e.ProfileImageURL, &e.AccessToken, &e.UpdatedAt)
	return e, err
}

func (l *LedgerStore) list(ctx context.Context, op, query string, args ...any) ([]domain.PointsLedgerEntry, error) {
	start := time.Now()
	rows, err := l.pg.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "points_ledger", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PointsLedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAll возвращает все строки лидерборда.
func (l *LedgerStore) ListAll(ctx context.Context) ([]domain.PointsLedgerEntry, error) {
	ctx, cancel := l.pg.longCtx(ctx)
	defer cancel()
	return l.list(ctx, "points_ledger_list", `SELECT `+ledgerColumns+` FROM points_ledger ORDER BY fid`)
}

// Insert добавляет строку. Гонка по fid считается успехом.
func (l *LedgerStore) Insert(ctx context.Context, e domain.PointsLedgerEntry) error {
	ctx, cancel := l.pg.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := l.pg.pool.Exec(ctx, `INSERT INTO points_ledger
    (fid, points, reactions_sent, reactions_received, username, profile_image_url, access_token, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		e.Fid, e.Points, e.ReactionsSent, e.ReactionsReceived, e.Username, e.ProfileImageURL, e.AccessToken)
	metrics.ObserveNetworkRequest("postgres", "points_ledger_insert", "points_ledger", start, err)
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// Update перезаписывает очки, счётчики, профиль и токен строки по fid.
func (l *LedgerStore) Update(ctx context.Context, e domain.PointsLedgerEntry) error {
	ctx, cancel := l.pg.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := l.pg.pool.Exec(ctx, `UPDATE points_ledger
SET points = $2, reactions_sent = $3, reactions_received = $4, username = $5,
    profile_image_url = $6, access_token = $7, updated_at = NOW()
WHERE fid = $1`,
		e.Fid, e.Points, e.ReactionsSent, e.ReactionsReceived, e.Username, e.ProfileImageURL, e.AccessToken)
	metrics.ObserveNetworkRequest("postgres", "points_ledger_update", "points_ledger", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPoints возвращает id и очки всех строк.
func (l *LedgerStore) ListPoints(ctx context.Context) ([]domain.LedgerPoints, error) {
	ctx, cancel := l.pg.longCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := l.pg.pool.Query(ctx, `SELECT id, points FROM points_ledger`)
	metrics.ObserveNetworkRequest("postgres", "points_ledger_points", "points_ledger", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerPoints
	for rows.Next() {
		var lp domain.LedgerPoints
		if err := rows.Scan(&lp.ID, &lp.Points); err != nil {
			return nil, err
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

// WriteRanks записывает ранги одной транзакцией.
func (l *LedgerStore) WriteRanks(ctx context.Context, updates []domain.RankUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ctx, cancel := l.pg.longCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := l.pg.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "points_ledger", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE points_ledger SET rank = $2 WHERE id = $1 AND rank <> $2`, u.ID, u.Rank)
	}
	start = time.Now()
	results := tx.SendBatch(ctx, batch)
	for i := range updates {
		if _, err = results.Exec(); err != nil {
			err = fmt.Errorf("ранг строки %d: %w", updates[i].ID, err)
			break
		}
	}
	if closeErr := results.Close(); err == nil {
		err = closeErr
	}
	metrics.ObserveNetworkRequest("postgres", "points_ledger_ranks", "points_ledger", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "points_ledger", start, err)
	return err
}

// Leaderboard возвращает страницу лидерборда по рангу.
func (l *LedgerStore) Leaderboard(ctx context.Context, limit, offset int) ([]domain.PointsLedgerEntry, error) {
	ctx, cancel := l.pg.connCtxWithParent(ctx)
	defer cancel()
	return l.list(ctx, "points_ledger_page", `SELECT `+ledgerColumns+` FROM points_ledger
ORDER BY rank, points DESC, fid
LIMIT $1 OFFSET $2`, limit, offset)
}

// GetByFid возвращает строку пользователя или domain.ErrNotFound.
func (l *LedgerStore) GetByFid(ctx context.Context, fid int64) (domain.PointsLedgerEntry, error) {
	return l.getOne(ctx, "points_ledger_get_fid", `SELECT `+ledgerColumns+` FROM points_ledger WHERE fid = $1`, fid)
}

// GetByToken возвращает строку по токену ссылки или domain.ErrNotFound.
func (l *LedgerStore) GetByToken(ctx context.Context, token string) (domain.PointsLedgerEntry, error) {
	return l.getOne(ctx, "points_ledger_get_token", `SELECT `+ledgerColumns+` FROM points_ledger WHERE access_token = $1`, token)
}

func (l *LedgerStore) getOne(ctx context.Context, op, query string, arg any) (domain.PointsLedgerEntry, error) {
	ctx, cancel := l.pg.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	e, err := scanLedger(l.pg.pool.QueryRow(ctx, query, arg))
	metrics.ObserveNetworkRequest("postgres", op, "points_ledger", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PointsLedgerEntry{}, domain.ErrNotFound
	}
	return e, err
}
