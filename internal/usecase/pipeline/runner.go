package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// LockKey: ключ блокировки в Redis. Все виды запусков делят одну блокировку.
const LockKey = "powerfeed:pipeline:lock"

// FilterStage выполняет выгрузку и фильтрацию.
type FilterStage interface {
	Run(ctx context.Context) (domain.FilterReport, error)
}

// AggregateStage пересчитывает очки.
type AggregateStage interface {
	Run(ctx context.Context) (domain.AggregateReport, error)
}

// RankStage пересчитывает ранги.
type RankStage interface {
	Run(ctx context.Context) (int, error)
}

// Runner запускает этапы последовательно под распределённой блокировкой.
type Runner struct {
	filter     FilterStage
	aggregator AggregateStage
	ranker     RankStage
	lock       domain.RunLock
	lockTTL    time.Duration
	logger     zerolog.Logger
	newRunID   func() string
	now        func() time.Time
}

// NewRunner создаёт раннер. lock может быть nil для однопроцессного режима.
func NewRunner(filter FilterStage, aggregator AggregateStage, ranker RankStage, lock domain.RunLock, lockTTL time.Duration, logger zerolog.Logger) *Runner {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Runner{
		filter:     filter,
		aggregator: aggregator,
		ranker:     ranker,
		lock:       lock,
		lockTTL:    lockTTL,
		logger:     logger.With().Str("component", "pipeline").Logger(),
		newRunID:   uuid.NewString,
		now:        time.Now,
	}
}

// Run выполняет этапы указанного вида запуска. Если блокировка занята, возвращает domain.ErrLockHeld.
func (r *Runner) Run(ctx context.Context, kind domain.RunKind) (domain.RunReport, error) {
	stages := kind.Stages()
	if len(stages) == 0 {
		return domain.RunReport{}, fmt.Errorf("неизвестный вид запуска %q", kind)
	}
	report := domain.RunReport{RunID: r.newRunID(), Kind: kind, StartedAt: r.now().UTC()}
	logger := r.logger.With().Str("run_id", report.RunID).Str("kind", string(kind)).Logger()
	ctx = logger.WithContext(ctx)

	if r.lock != nil {
		release, err := r.lock.Acquire(ctx, LockKey, r.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				logger.Info().Msg("pipeline: another run holds the lock, skipping")
				metrics.IncRun(string(kind), "skipped")
				return report, err
			}
			metrics.IncRun(string(kind), "error")
			return report, fmt.Errorf("захват блокировки: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				logger.Warn().Err(err).Msg("pipeline: release lock failed")
			}
		}()
	}

	logger.Info().Msg("pipeline: run started")
	for _, stage := range stages {
		start := time.Now()
		err := r.runStage(ctx, stage, &report)
		metrics.ObserveStage(string(stage), start, err)
		if err != nil {
			metrics.IncRun(string(kind), "error")
			logger.Error().Err(err).Str("stage", string(stage)).Msg("pipeline: stage failed")
			return report, fmt.Errorf("этап %s: %w", stage, err)
		}
		logger.Debug().Str("stage", string(stage)).Dur("took", time.Since(start)).Msg("pipeline: stage done")
	}
	report.FinishedAt = r.now().UTC()
	metrics.IncRun(string(kind), "success")
	logger.Info().Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("pipeline: run completed")
	return report, nil
}

func (r *Runner) runStage(ctx context.Context, stage domain.RunStage, report *domain.RunReport) error {
	var err error
	switch stage {
	case domain.StageFilter:
		report.Filter, err = r.filter.Run(ctx)
	case domain.StageAggregate:
		report.Aggregate, err = r.aggregator.Run(ctx)
	case domain.StageRank:
		report.Ranked, err = r.ranker.Run(ctx)
	default:
		err = fmt.Errorf("неизвестный этап %q", stage)
	}
	return err
}
