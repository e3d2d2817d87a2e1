package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// PipelineRunner запускает пайплайн указанного вида.
type PipelineRunner interface {
	Run(ctx context.Context, kind domain.RunKind) (domain.RunReport, error)
}

// PowerUserSyncer обновляет снимок power-пользователей.
type PowerUserSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// Specs: cron-выражения задач. Пустое выражение отключает задачу.
type Specs struct {
	Filter     string
	Points     string
	PowerUsers string
}

// Scheduler запускает задачи по расписанию. Задача пропускает тик, пока предыдущий запуск не завершён.
type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	runner PipelineRunner
	sync   PowerUserSyncer
	logger zerolog.Logger
}

// NewScheduler регистрирует задачи. sync может быть nil.
func NewScheduler(ctx context.Context, runner PipelineRunner, sync PowerUserSyncer, specs Specs, logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{logger: logger}
	s := &Scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		runner: runner,
		sync:   sync,
		logger: logger,
	}

	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{name: "filter", spec: specs.Filter, fn: func() { s.runPipeline(ctx, domain.RunKindFilter) }},
		{name: "points", spec: specs.Points, fn: func() { s.runPipeline(ctx, domain.RunKindPoints) }},
		{name: "power_users", spec: specs.PowerUsers, fn: func() { s.syncPowerUsers(ctx) }},
	}
	for _, job := range jobs {
		if job.spec == "" || (job.name == "power_users" && sync == nil) {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return nil, fmt.Errorf("расписание %s %q: %w", job.name, job.spec, err)
		}
		logger.Info().Str("job", job.name).Str("spec", job.spec).Msg("scheduler: job registered")
	}
	return s, nil
}

// Start синхронизирует снимок power-пользователей и запускает планировщик.
// Без первой синхронизации до первого тика все отправители считались бы обычными.
func (s *Scheduler) Start() {
	if s.sync != nil {
		s.syncPowerUsers(s.ctx)
	}
	s.cron.Start()
	s.logger.Info().Msg("scheduler: started")
}

// Stop останавливает планировщик и ждёт завершения текущих задач.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler: stopped")
}

func (s *Scheduler) runPipeline(ctx context.Context, kind domain.RunKind) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.Run(ctx, kind); err != nil {
		if errors.Is(err, domain.ErrLockHeld) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("scheduler: pipeline run failed")
	}
}

func (s *Scheduler) syncPowerUsers(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	_, err := s.sync.Sync(ctx)
	metrics.ObserveStage(string(domain.StagePowerUsers), start, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("scheduler: power user sync failed")
	}
}

// cronLogger передаёт сообщения cron в zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg("scheduler: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("scheduler: " + msg)
}
