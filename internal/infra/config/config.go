package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	Redash struct {
		RepliesURL string        `envconfig:"REDASH_REPLIES_URL"`
		Timeout    time.Duration `envconfig:"REDASH_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Neynar struct {
		APIKey        string        `envconfig:"NEYNAR_API_KEY"`
		BaseURL       string        `envconfig:"NEYNAR_BASE_URL" default:"https://api.neynar.com"`
		PowerPageWait time.Duration `envconfig:"NEYNAR_POWER_PAGE_DELAY" default:"5s"`
	} `envconfig:""`

	Dune struct {
		APIKey       string        `envconfig:"DUNE_API_KEY"`
		BaseURL      string        `envconfig:"DUNE_BASE_URL" default:"https://api.dune.com"`
		QueryID      int64         `envconfig:"DUNE_QUERY_ID"`
		PollInterval time.Duration `envconfig:"DUNE_POLL_INTERVAL" default:"1s"`
	} `envconfig:""`

	Talent struct {
		APIKey  string `envconfig:"TALENT_API_KEY"`
		BaseURL string `envconfig:"TALENT_BASE_URL" default:"https://api.talentprotocol.com"`
	} `envconfig:""`

	Schedules struct {
		Filter     string `envconfig:"FILTER_SCHEDULE" default:"@every 1m"`
		Points     string `envconfig:"POINTS_SCHEDULE" default:"@every 10m"`
		PowerUsers string `envconfig:"POWER_USERS_SCHEDULE" default:"@every 1h"`
	} `envconfig:""`

	Pipeline struct {
		Marker         string        `envconfig:"REACTION_MARKER" default:"⚡"`
		LockTTL        time.Duration `envconfig:"PIPELINE_LOCK_TTL" default:"30m"`
		MaxSnapshotAge time.Duration `envconfig:"POWER_USERS_MAX_AGE" default:"48h"`
		BatchSize      int           `envconfig:"AGGREGATE_BATCH_SIZE" default:"1000"`
		RegimesFile    string        `envconfig:"REGIMES_FILE"`
	} `envconfig:""`

	Scores struct {
		LookupTimeout time.Duration `envconfig:"SCORE_LOOKUP_TIMEOUT" default:"5s"`
		MaxAttempts   int           `envconfig:"SCORE_MAX_ATTEMPTS" default:"3"`
		Workers       int           `envconfig:"SCORE_WORKERS" default:"8"`
	} `envconfig:""`

	Metrics struct {
		Addr string `envconfig:"METRICS_ADDR" default:":9090"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
