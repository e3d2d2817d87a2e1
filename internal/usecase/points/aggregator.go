package points

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
	"powerfeed/internal/usecase/score"
)

// DefaultBatchSize: размер страницы при чтении принятых ответов.
const DefaultBatchSize = 1000

type tally struct {
	points   int64
	sent     int64
	received int64
}

// Aggregator полностью пересчитывает очки по всем принятым ответам.
type Aggregator struct {
	reactions domain.ReactionRepo
	ledger    domain.LedgerRepo
	resolver  *score.Resolver
	batchSize int
	logger    zerolog.Logger
	newToken  func() (string, error)
}

// NewAggregator создаёт агрегатор.
func NewAggregator(reactions domain.ReactionRepo, ledger domain.LedgerRepo, resolver *score.Resolver, batchSize int, logger zerolog.Logger) *Aggregator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Aggregator{
		reactions: reactions,
		ledger:    ledger,
		resolver:  resolver,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "aggregator").Logger(),
		newToken:  domain.NewAccessToken,
	}
}

// Run пересчитывает итоги и записывает изменившиеся строки лидерборда.
func (a *Aggregator) Run(ctx context.Context) (domain.AggregateReport, error) {
	var report domain.AggregateReport

	session := a.resolver.NewSession()
	if err := session.Load(ctx); err != nil {
		return report, err
	}
	unknown, err := a.reactions.ListUnknownFids(ctx)
	if err != nil {
		return report, fmt.Errorf("поиск неизвестных fid: %w", err)
	}
	if len(unknown) > 0 {
		a.logger.Info().Int("count", len(unknown)).Msg("aggregator: resolving unknown fids")
		if err := session.Prefetch(ctx, unknown); err != nil {
			return report, fmt.Errorf("разрешение неизвестных fid: %w", err)
		}
	}

	totals, processed, err := a.accumulate(ctx, session)
	if err != nil {
		return report, err
	}
	report.Reactions = processed

	existing, err := a.ledger.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("чтение лидерборда: %w", err)
	}
	ledger := make(map[int64]domain.PointsLedgerEntry, len(existing))
	for _, entry := range existing {
		ledger[entry.Fid] = entry
	}

	for _, fid := range unionFids(session.Records(), totals) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Users++
		rec, ok := session.Record(fid)
		if !ok {
			report.Skipped++
			continue
		}
		op, err := a.write(ctx, rec, totals[fid], ledger)
		if err != nil {
			return report, err
		}
		switch op {
		case "insert":
			report.Inserted++
		case "update":
			report.Updated++
		default:
			report.Unchanged++
		}
		metrics.IncLedgerWrite(op)
	}

	a.logger.Info().
		Int("reactions", report.Reactions).
		Int("users", report.Users).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("skipped", report.Skipped).
		Msg("aggregator: recompute completed")
	return report, nil
}

// accumulate читает ответы страницами по (cast_timestamp, cast_hash) и суммирует цены.
func (a *Aggregator) accumulate(ctx context.Context, session *score.Session) (map[int64]*tally, int, error) {
	totals := make(map[int64]*tally)
	get := func(fid int64) *tally {
		t, ok := totals[fid]
		if !ok {
			t = &tally{}
			totals[fid] = t
		}
		return t
	}

	var (
		cursor    domain.ReactionCursor
		processed int
	)
	for {
		batch, err := a.reactions.ListAcceptedAfter(ctx, cursor, a.batchSize)
		if err != nil {
			return nil, processed, fmt.Errorf("чтение принятых ответов: %w", err)
		}
		for _, r := range batch {
			if err := ctx.Err(); err != nil {
				return nil, processed, err
			}
			price, err := session.Price(ctx, r.ReplyFromFid, r.CastTimestamp)
			if err != nil {
				return nil, processed, fmt.Errorf("цена ответа %s: %w", r.CastHash, err)
			}
			sender := get(r.ReplyFromFid)
			sender.points += price
			sender.sent++
			receiver := get(r.ReplyToFid)
			receiver.points += price
			receiver.received++
			processed++
		}
		if len(batch) < a.batchSize {
			return totals, processed, nil
		}
		last := batch[len(batch)-1]
		cursor = domain.ReactionCursor{Timestamp: last.CastTimestamp, CastHash: last.CastHash}
	}
}

// write применяет правило записи: новая строка вставляется, существующая обновляется
// только если очки изменились и новое значение положительно.
func (a *Aggregator) write(ctx context.Context, rec domain.UserScoreRecord, t *tally, ledger map[int64]domain.PointsLedgerEntry) (string, error) {
	if t == nil {
		t = &tally{}
	}
	entry, exists := ledger[rec.Fid]
	// Итог, упавший до нуля, не записывается: в лидерборде остаётся прежнее значение.
	if exists && (entry.Points == t.points || t.points <= 0) {
		return "unchanged", nil
	}

	token, err := a.newToken()
	if err != nil {
		return "", fmt.Errorf("генерация токена: %w", err)
	}
	next := domain.PointsLedgerEntry{
		ID:                entry.ID,
		Fid:               rec.Fid,
		Points:            t.points,
		ReactionsSent:     t.sent,
		ReactionsReceived: t.received,
		Rank:              entry.Rank,
		Username:          rec.Username,
		ProfileImageURL:   rec.ProfileImageURL,
		AccessToken:       token,
	}
	if !exists {
		if err := a.ledger.Insert(ctx, next); err != nil {
			return "", fmt.Errorf("вставка строки лидерборда %d: %w", rec.Fid, err)
		}
		return "insert", nil
	}
	if err := a.ledger.Update(ctx, next); err != nil {
		return "", fmt.Errorf("обновление строки лидерборда %d: %w", rec.Fid, err)
	}
	return "update", nil
}

func unionFids(known []int64, totals map[int64]*tally) []int64 {
	seen := make(map[int64]struct{}, len(known)+len(totals))
	fids := make([]int64, 0, len(known)+len(totals))
	for _, fid := range known {
		if _, ok := seen[fid]; !ok {
			seen[fid] = struct{}{}
			fids = append(fids, fid)
		}
	}
	for fid := range totals {
		if _, ok := seen[fid]; !ok {
			seen[fid] = struct{}{}
			fids = append(fids, fid)
		}
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	return fids
}
