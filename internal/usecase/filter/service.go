package filter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// Prefetcher заранее создаёт записи о репутации для новых fid.
type Prefetcher interface {
	Prefetch(ctx context.Context, fids []int64) error
}

// Config задаёт параметры фильтра.
type Config struct {
	Marker string
	// MaxSnapshotAge: после этого возраста снимок power-пользователей игнорируется.
	MaxSnapshotAge time.Duration
}

// Service выгружает ответы, фильтрует их и сохраняет принятые.
type Service struct {
	source     domain.EventSource
	reactions  domain.ReactionRepo
	powerUsers domain.PowerUserSet
	prefetcher Prefetcher
	regimes    domain.RegimeTable
	marker     Marker
	maxAge     time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис фильтрации. prefetcher может быть nil.
func NewService(source domain.EventSource, reactions domain.ReactionRepo, powerUsers domain.PowerUserSet, prefetcher Prefetcher, regimes domain.RegimeTable, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		source:     source,
		reactions:  reactions,
		powerUsers: powerUsers,
		prefetcher: prefetcher,
		regimes:    regimes,
		marker:     NewMarker(cfg.Marker),
		maxAge:     cfg.MaxSnapshotAge,
		logger:     logger.With().Str("component", "filter").Logger(),
		now:        time.Now,
	}
}

// Run выполняет один проход: водяной знак, выгрузка, архив, фильтр, сохранение.
// При ошибке источника или базы ничего не сохраняется и следующий запуск начнёт с того же знака.
func (s *Service) Run(ctx context.Context) (domain.FilterReport, error) {
	watermark, ok, err := s.reactions.LatestAccepted(ctx)
	if err != nil {
		return domain.FilterReport{}, fmt.Errorf("чтение водяного знака: %w", err)
	}

	var since time.Time
	if ok {
		since = watermark.Add(-Lookback)
	}
	now := s.now().UTC()
	events, err := s.source.FetchReplies(ctx, since, now)
	if err != nil {
		return domain.FilterReport{}, fmt.Errorf("выгрузка ответов: %w", err)
	}

	archived, err := s.reactions.ArchiveRaw(ctx, events)
	if err != nil {
		return domain.FilterReport{}, fmt.Errorf("архивирование ответов: %w", err)
	}

	isPower := s.classifier(ctx, now)
	accepted, report := Apply(events, s.regimes, s.marker, watermark, ok, isPower)
	report.Archived = archived

	inserted, err := s.reactions.InsertFiltered(ctx, accepted)
	if err != nil {
		return report, fmt.Errorf("сохранение принятых ответов: %w", err)
	}
	report.Inserted = inserted

	metrics.IncAccepted(report.Accepted)
	for reason, n := range report.Rejected {
		metrics.IncRejected(string(reason), n)
	}

	s.logger.Info().
		Int("fetched", report.Fetched).
		Int("archived", report.Archived).
		Int("eligible", report.Eligible).
		Int("accepted", report.Accepted).
		Int("inserted", report.Inserted).
		Time("watermark", watermark).
		Msg("filter: pass completed")

	if s.prefetcher != nil && len(accepted) > 0 {
		if err := s.prefetcher.Prefetch(ctx, referencedFids(accepted)); err != nil {
			if errors.Is(err, context.Canceled) {
				return report, err
			}
			s.logger.Warn().Err(err).Msg("filter: prefetch scores failed")
		}
	}
	return report, nil
}

// classifier читает снимок power-пользователей. При ошибке или устаревшем снимке все считаются обычными.
func (s *Service) classifier(ctx context.Context, now time.Time) Classifier {
	if s.powerUsers == nil {
		return nil
	}
	snapshot, err := s.freshSnapshot(ctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("filter: power user snapshot unusable, treating everyone as regular")
		return nil
	}
	return func(fid int64) bool {
		return domain.ClassFor(snapshot, fid, now, s.maxAge) == domain.UserClassPower
	}
}

// freshSnapshot возвращает снимок или domain.ErrSnapshotStale, если он пуст или старше maxAge.
func (s *Service) freshSnapshot(ctx context.Context, now time.Time) (domain.PowerUserSnapshot, error) {
	snapshot, err := s.powerUsers.Snapshot(ctx)
	if err != nil {
		return domain.PowerUserSnapshot{}, fmt.Errorf("чтение снимка power-пользователей: %w", err)
	}
	if !snapshot.Fresh(now, s.maxAge) {
		return domain.PowerUserSnapshot{}, fmt.Errorf("%w: fetched_at=%s size=%d", domain.ErrSnapshotStale, snapshot.FetchedAt.Format(time.RFC3339), len(snapshot.Fids))
	}
	return snapshot, nil
}

func referencedFids(reactions []domain.FilteredReaction) []int64 {
	seen := make(map[int64]struct{}, len(reactions)*2)
	for _, r := range reactions {
		seen[r.ReplyFromFid] = struct{}{}
		seen[r.ReplyToFid] = struct{}{}
	}
	fids := make([]int64, 0, len(seen))
	for fid := range seen {
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	return fids
}
