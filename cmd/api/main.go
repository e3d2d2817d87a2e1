package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"powerfeed/internal/adapters/repo"
	"powerfeed/internal/infra/config"
	"powerfeed/internal/infra/db"
	httpinfra "powerfeed/internal/infra/http"
	applog "powerfeed/internal/infra/log"
	"powerfeed/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool)
	server := httpinfra.NewServer(logger, store.Ledger())
	if err := server.Start(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Fatal().Err(err).Msg("api: сервер остановлен")
	}
	logger.Info().Msg("api: остановка")
}
