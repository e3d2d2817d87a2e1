package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"powerfeed/internal/adapters/dune"
	"powerfeed/internal/adapters/neynar"
	"powerfeed/internal/adapters/powerusers"
	"powerfeed/internal/adapters/redash"
	"powerfeed/internal/adapters/repo"
	"powerfeed/internal/adapters/talent"
	"powerfeed/internal/domain"
	"powerfeed/internal/infra/cache"
	"powerfeed/internal/infra/config"
	"powerfeed/internal/infra/db"
	"powerfeed/internal/infra/httpclient"
	applog "powerfeed/internal/infra/log"
	"powerfeed/internal/infra/metrics"
	"powerfeed/internal/usecase/filter"
	"powerfeed/internal/usecase/pipeline"
	"powerfeed/internal/usecase/points"
	powerusersusecase "powerfeed/internal/usecase/powerusers"
	"powerfeed/internal/usecase/schedule"
	"powerfeed/internal/usecase/score"
)

func main() {
	once := flag.Bool("once", false, "выполнить полный пайплайн один раз и выйти")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "pipeline")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	regimes, err := config.LoadRegimes(cfg.Pipeline.RegimesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: invalid regime table")
	}

	pool, err := db.Connect(ctx, cfg.PGDSN, 5)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: нет подключения к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool)
	if err := store.Migrate(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("pipeline: migrations failed")
	}

	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: нет подключения к Redis")
	}
	defer redisClient.Close()
	powerSet := powerusers.NewRedisSet(redisClient, powerusers.DefaultKey)

	events, err := redash.New(cfg.Redash.RepliesURL, logger, httpclient.WithTimeout(cfg.Redash.Timeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: redash client")
	}
	profiles, err := neynar.New(neynar.Config{
		BaseURL:   cfg.Neynar.BaseURL,
		APIKey:    cfg.Neynar.APIKey,
		PageDelay: cfg.Neynar.PowerPageWait,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: neynar client")
	}
	reputation, err := dune.New(dune.Config{
		BaseURL:      cfg.Dune.BaseURL,
		APIKey:       cfg.Dune.APIKey,
		QueryID:      cfg.Dune.QueryID,
		PollInterval: cfg.Dune.PollInterval,
		MaxWait:      cfg.Scores.LookupTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: dune client")
	}
	var builder domain.BuilderLookup
	if cfg.Talent.APIKey != "" {
		talentClient, err := talent.New(cfg.Talent.BaseURL, cfg.Talent.APIKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("pipeline: talent client")
		}
		builder = talentClient
	} else {
		logger.Warn().Msg("pipeline: TALENT_API_KEY is empty, builder scores default to 0")
	}

	resolver := score.NewResolver(store.Scores(), profiles, reputation, builder, regimes, score.Config{
		LookupTimeout: cfg.Scores.LookupTimeout,
		MaxAttempts:   cfg.Scores.MaxAttempts,
		Workers:       cfg.Scores.Workers,
	}, logger)
	filterService := filter.NewService(events, store, powerSet, resolver, regimes, filter.Config{
		Marker:         cfg.Pipeline.Marker,
		MaxSnapshotAge: cfg.Pipeline.MaxSnapshotAge,
	}, logger)
	aggregator := points.NewAggregator(store, store.Ledger(), resolver, cfg.Pipeline.BatchSize, logger)
	ranker := points.NewRanker(store.Ledger(), logger)
	runner := pipeline.NewRunner(filterService, aggregator, ranker, cache.NewRedisLock(redisClient), cfg.Pipeline.LockTTL, logger)
	powerSync := powerusersusecase.NewService(profiles, powerSet, logger)

	if *once {
		if _, err := powerSync.Sync(ctx); err != nil {
			logger.Warn().Err(err).Msg("pipeline: power user sync failed, continuing with stored snapshot")
		}
		if _, err := runner.Run(ctx, domain.RunKindFull); err != nil {
			logger.Fatal().Err(err).Msg("pipeline: run failed")
		}
		return
	}

	metrics.StartServer(ctx, logger, cfg.Metrics.Addr)

	scheduler, err := schedule.NewScheduler(ctx, runner, powerSync, schedule.Specs{
		Filter:     cfg.Schedules.Filter,
		Points:     cfg.Schedules.Points,
		PowerUsers: cfg.Schedules.PowerUsers,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline: invalid schedule")
	}
	scheduler.Start()
	<-ctx.Done()
	logger.Info().Msg("pipeline: остановка")
	scheduler.Stop()
}
