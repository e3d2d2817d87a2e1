package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// ScoreStore хранит записи user_scores.
type ScoreStore struct {
	pg *Postgres
}

const scoreColumns = `fid, username, profile_image_url, primary_score, secondary_score, tertiary_score,
    builder_score, access_token, created_at, updated_at`

func scanScore(row pgx.Row) (domain.UserScoreRecord, error) {
	var rec domain.UserScoreRecord
	err := row.Scan(&rec.Fid, &rec.Username, &rec.ProfileImageURL, &rec.PrimaryScore, &rec.SecondaryScore,
		&rec.TertiaryScore, &rec.BuilderScore, &rec.AccessToken, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// ListAll возвращает все записи.
func (s *ScoreStore) ListAll(ctx context.Context) ([]domain.UserScoreRecord, error) {
	ctx, cancel := s.pg.longCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := s.pg.pool.Query(ctx, `SELECT `+scoreColumns+` FROM user_scores ORDER BY fid`)
	metrics.ObserveNetworkRequest("postgres", "user_scores_list", "user_scores", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get возвращает запись по fid или domain.ErrNotFound.
func (s *ScoreStore) Get(ctx context.Context, fid int64) (domain.UserScoreRecord, error) {
	ctx, cancel := s.pg.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rec, err := scanScore(s.pg.pool.QueryRow(ctx, `SELECT `+scoreColumns+` FROM user_scores WHERE fid = $1`, fid))
	metrics.ObserveNetworkRequest("postgres", "user_scores_get", "user_scores", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserScoreRecord{}, domain.ErrNotFound
	}
	return rec, err
}

// Insert создаёт запись. Конфликт по fid не считается ошибкой.
func (s *ScoreStore) Insert(ctx context.Context, rec domain.UserScoreRecord) (bool, error) {
	ctx, cancel := s.pg.connCtxWithParent(ctx)
	defer cancel()

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	start := time.Now()
	tag, err := s.pg.pool.Exec(ctx, `INSERT INTO user_scores (`+scoreColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (fid) DO NOTHING`,
		rec.Fid, rec.Username, rec.ProfileImageURL, rec.PrimaryScore, rec.SecondaryScore, rec.TertiaryScore,
		rec.BuilderScore, rec.AccessToken, rec.CreatedAt, rec.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "user_scores_insert", "user_scores", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
