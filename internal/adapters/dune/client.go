package dune

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/httpclient"
)

const (
	// DefaultBaseURL: публичный адрес API.
	DefaultBaseURL = "https://api.dune.com"

	stateCompleted = "QUERY_STATE_COMPLETED"
	stateFailed    = "QUERY_STATE_FAILED"
	stateCancelled = "QUERY_STATE_CANCELLED"
	stateExpired   = "QUERY_STATE_EXPIRED"
)

// Config задаёт параметры клиента.
type Config struct {
	BaseURL      string
	APIKey       string
	QueryID      int64
	PollInterval time.Duration
	// MaxWait ограничивает ожидание одного выполнения, если у контекста нет дедлайна короче.
	MaxWait time.Duration
}

// Client получает репутацию через запуск сохранённого запроса и опрос его статуса.
type Client struct {
	http     *httpclient.Client
	queryID  int64
	interval time.Duration
	maxWait  time.Duration
	logger   zerolog.Logger
}

// New создаёт клиента.
func New(cfg Config, logger zerolog.Logger, opts ...httpclient.Option) (*Client, error) {
	if cfg.QueryID <= 0 {
		return nil, fmt.Errorf("dune: query id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Second
	}
	opts = append([]httpclient.Option{httpclient.WithHeader("X-Dune-API-Key", cfg.APIKey)}, opts...)
	client, err := httpclient.New("dune", cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		http:     client,
		queryID:  cfg.QueryID,
		interval: cfg.PollInterval,
		maxWait:  cfg.MaxWait,
		logger:   logger.With().Str("component", "dune").Logger(),
	}, nil
}

type executeRequest struct {
	QueryParameters map[string]any `json:"query_parameters"`
}

type executeResponse struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
}

type statusResponse struct {
	State string `json:"state"`
}

type resultsResponse struct {
	Result struct {
		Rows []struct {
			PowerScore *float64 `json:"power_score"`
		} `json:"rows"`
	} `json:"result"`
}

// LookupReputation запускает запрос для fid, ждёт завершения и читает power_score.
// Пустой результат или нулевое значение дают 1.
func (c *Client) LookupReputation(ctx context.Context, fid int64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	var exec executeResponse
	body := executeRequest{QueryParameters: map[string]any{"fid": fid}}
	if err := c.http.Post(ctx, "execute", fmt.Sprintf("/api/v1/query/%d/execute", c.queryID), body, &exec); err != nil {
		return 0, fmt.Errorf("запуск запроса репутации fid=%d: %w", fid, err)
	}
	if exec.ExecutionID == "" {
		return 0, fmt.Errorf("запуск запроса репутации fid=%d: %w", fid, domain.ErrScoreUnavailable)
	}

	if err := c.waitCompleted(ctx, exec.ExecutionID); err != nil {
		return 0, fmt.Errorf("ожидание репутации fid=%d: %w", fid, err)
	}

	var results resultsResponse
	if err := c.http.Get(ctx, "results", "/api/v1/execution/"+exec.ExecutionID+"/results", nil, &results); err != nil {
		return 0, fmt.Errorf("результат репутации fid=%d: %w", fid, err)
	}
	rows := results.Result.Rows
	if len(rows) == 0 || rows[0].PowerScore == nil || *rows[0].PowerScore == 0 {
		return 1, nil
	}
	return *rows[0].PowerScore, nil
}

func (c *Client) waitCompleted(ctx context.Context, executionID string) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		var status statusResponse
		if err := c.http.Get(ctx, "status", "/api/v1/execution/"+executionID+"/status", nil, &status); err != nil {
			return err
		}
		switch status.State {
		case stateCompleted:
			return nil
		case stateFailed, stateCancelled, stateExpired:
			c.logger.Warn().Str("execution_id", executionID).Str("state", status.State).Msg("dune: execution did not complete")
			return domain.ErrScoreUnavailable
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
