package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

const replyColumns = `cast_fid, cast_hash, cast_timestamp, original_cast_hash, original_cast_timestamp,
    reply_from_fid, reply_to_fid, reaction_giver_username, reply_text, cast_link`

// LatestAccepted возвращает водяной знак по принятым ответам.
func (p *Postgres) LatestAccepted(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var latest *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT MAX(cast_timestamp) FROM filtered_reactions`).Scan(&latest)
	metrics.ObserveNetworkRequest("postgres", "filtered_reactions_watermark", "filtered_reactions", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// InsertFiltered сохраняет принятые ответы с ON CONFLICT (cast_hash) DO NOTHING.
func (p *Postgres) InsertFiltered(ctx context.Context, reactions []domain.FilteredReaction) (int, error) {
	return p.insertReplies(ctx, "filtered_reactions", reactions)
}

// ArchiveRaw сохраняет все выгруженные ответы независимо от фильтра.
func (p *Postgres) ArchiveRaw(ctx context.Context, events []domain.ReplyEvent) (int, error) {
	return p.insertReplies(ctx, "reply_events", events)
}

func (p *Postgres) insertReplies(ctx context.Context, table string, rows []domain.ReplyEvent) (int, error) {
	inserted := 0
	for offset := 0; offset < len(rows); offset += insertChunk {
		end := offset + insertChunk
		if end > len(rows) {
			end = len(rows)
		}
		n, err := p.insertReplyChunk(ctx, table, rows[offset:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (p *Postgres) insertReplyChunk(ctx context.Context, table string, rows []domain.ReplyEvent) (int, error) {
	ctx, cancel := p.longCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (cast_hash) DO NOTHING`, table, replyColumns)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(query,
			r.CastFid, r.CastHash, r.CastTimestamp.UTC(), r.OriginalCastHash, nullableTime(r.OriginalCastTimestamp),
			r.ReplyFromFid, r.ReplyToFid, r.ReactionGiverUsername, r.ReplyText, r.CastLink,
		)
	}

	start := time.Now()
	results := p.pool.SendBatch(ctx, batch)
	inserted := 0
	var err error
	for range rows {
		var tag pgconn.CommandTag
		tag, err = results.Exec()
		if err != nil {
			break
		}
		inserted += int(tag.RowsAffected())
	}
	if closeErr := results.Close(); err == nil {
		err = closeErr
	}
	metrics.ObserveNetworkRequest("postgres", table+"_insert", table, start, err)
	// Пачка pgx выполняется в неявной транзакции: при ошибке откатываются все строки пачки.
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListAcceptedAfter читает принятые ответы по ключу (cast_timestamp, cast_hash).
func (p *Postgres) ListAcceptedAfter(ctx context.Context, after domain.ReactionCursor, limit int) ([]domain.FilteredReaction, error) {
	ctx, cancel := p.longCtx(ctx)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	start := time.Now()
	if after.Timestamp.IsZero() && after.CastHash == "" {
		rows, err = p.pool.Query(ctx, `SELECT `+replyColumns+`
FROM filtered_reactions
ORDER BY cast_timestamp, cast_hash
LIMIT $1`, limit)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT `+replyColumns+`
FROM filtered_reactions
WHERE (cast_timestamp, cast_hash) > ($1, $2)
ORDER BY cast_timestamp, cast_hash
LIMIT $3`, after.Timestamp.UTC(), after.CastHash, limit)
	}
	metrics.ObserveNetworkRequest("postgres", "filtered_reactions_page", "filtered_reactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.FilteredReaction, 0, limit)
	for rows.Next() {
		var (
			r        domain.FilteredReaction
			original *time.Time
		)
		if err := rows.Scan(&r.CastFid, &r.CastHash, &r.CastTimestamp, &r.OriginalCastHash, &original,
			&r.ReplyFromFid, &r.ReplyToFid, &r.ReactionGiverUsername, &r.ReplyText, &r.CastLink); err != nil {
			return nil, err
		}
		r.CastTimestamp = r.CastTimestamp.UTC()
		if original != nil {
			r.OriginalCastTimestamp = original.UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListUnknownFids возвращает fid из принятых ответов, для которых нет записи о репутации.
func (p *Postgres) ListUnknownFids(ctx context.Context) ([]int64, error) {
	ctx, cancel := p.longCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT f.fid FROM (
    SELECT reply_from_fid AS fid FROM filtered_reactions
    UNION
    SELECT reply_to_fid FROM filtered_reactions
) f
WHERE NOT EXISTS (SELECT 1 FROM user_scores s WHERE s.fid = f.fid)
ORDER BY f.fid`)
	metrics.ObserveNetworkRequest("postgres", "unknown_fids", "filtered_reactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fids []int64
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		fids = append(fids, fid)
	}
	return fids, rows.Err()
}
