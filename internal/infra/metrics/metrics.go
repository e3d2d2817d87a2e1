package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Длительность этапов пайплайна",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage", "status"})

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Количество запусков пайплайна",
	}, []string{"kind", "status"})

	ReactionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "filter_reactions_accepted_total",
		Help: "Принятые фильтром ответы",
	})

	ReactionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_reactions_rejected_total",
		Help: "Отклонённые фильтром ответы по причинам",
	}, []string{"reason"})

	MalformedRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "source_malformed_rows_total",
		Help: "Строки выгрузки без обязательных полей",
	})

	LedgerWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_writes_total",
		Help: "Записи в лидерборд по типу операции",
	}, []string{"op"})

	ScoreLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "score_lookups_total",
		Help: "Поиск репутации неизвестных пользователей по результату",
	}, []string{"outcome"})

	PowerUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "power_users",
		Help: "Размер последнего снимка power-пользователей",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		StageDuration,
		RunsTotal,
		ReactionsAccepted,
		ReactionsRejected,
		MalformedRows,
		LedgerWrites,
		ScoreLookups,
		PowerUsers,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveStage записывает длительность этапа пайплайна.
func ObserveStage(stage string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StageDuration.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}

// IncRun увеличивает счётчик запусков.
func IncRun(kind, status string) {
	RunsTotal.WithLabelValues(kind, status).Inc()
}

// IncAccepted увеличивает счётчик принятых ответов.
func IncAccepted(n int) {
	if n > 0 {
		ReactionsAccepted.Add(float64(n))
	}
}

// IncRejected увеличивает счётчик отклонённых ответов.
func IncRejected(reason string, n int) {
	if n > 0 {
		ReactionsRejected.WithLabelValues(reason).Add(float64(n))
	}
}

// IncMalformed увеличивает счётчик битых строк.
func IncMalformed() {
	MalformedRows.Inc()
}

// IncLedgerWrite увеличивает счётчик записей в лидерборд.
func IncLedgerWrite(op string) {
	LedgerWrites.WithLabelValues(op).Inc()
}

// IncScoreLookup увеличивает счётчик поисков репутации.
func IncScoreLookup(outcome string) {
	ScoreLookups.WithLabelValues(outcome).Inc()
}

// SetPowerUsers обновляет размер снимка power-пользователей.
func SetPowerUsers(n int) {
	PowerUsers.Set(float64(n))
}
