package neynar

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/httpclient"
)

const (
	// DefaultBaseURL: публичный адрес API.
	DefaultBaseURL = "https://api.neynar.com"
	powerPageLimit = 100
)

// Client: клиент API профилей и списка power-пользователей.
type Client struct {
	http      *httpclient.Client
	pageDelay time.Duration
	maxPages  int
	logger    zerolog.Logger
}

// Config задаёт параметры клиента.
type Config struct {
	BaseURL string
	APIKey  string
	// PageDelay: пауза между страницами списка power-пользователей.
	PageDelay time.Duration
	// MaxPages ограничивает обход курсора. Ноль означает без ограничения.
	MaxPages int
}

// New создаёт клиента.
func New(cfg Config, logger zerolog.Logger, opts ...httpclient.Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	opts = append([]httpclient.Option{httpclient.WithHeader("api_key", cfg.APIKey)}, opts...)
	client, err := httpclient.New("neynar", cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		http:      client,
		pageDelay: cfg.PageDelay,
		maxPages:  cfg.MaxPages,
		logger:    logger.With().Str("component", "neynar").Logger(),
	}, nil
}

type userDTO struct {
	Fid               int64  `json:"fid"`
	Username          string `json:"username"`
	PfpURL            string `json:"pfp_url"`
	VerifiedAddresses struct {
		EthAddresses []string `json:"eth_addresses"`
	} `json:"verified_addresses"`
}

type bulkResponse struct {
	Users []userDTO `json:"users"`
}

// LookupProfile возвращает профиль по fid. Пустой ответ даёт domain.ErrNotFound.
func (c *Client) LookupProfile(ctx context.Context, fid int64) (domain.Profile, error) {
	var resp bulkResponse
	query := url.Values{"fids": {strconv.FormatInt(fid, 10)}}
	if err := c.http.Get(ctx, "user_bulk", "/v2/farcaster/user/bulk", query, &resp); err != nil {
		return domain.Profile{}, fmt.Errorf("профиль fid=%d: %w", fid, err)
	}
	if len(resp.Users) == 0 {
		return domain.Profile{}, fmt.Errorf("профиль fid=%d: %w", fid, domain.ErrNotFound)
	}
	user := resp.Users[0]
	return domain.Profile{
		Fid:               fid,
		Username:          user.Username,
		ProfileImageURL:   user.PfpURL,
		VerifiedAddresses: append([]string(nil), user.VerifiedAddresses.EthAddresses...),
	}, nil
}

type powerResponse struct {
	Users []userDTO `json:"users"`
	Next  struct {
		Cursor *string `json:"cursor"`
	} `json:"next"`
}

// ListPowerUsers обходит постраничный список power-пользователей.
// Ошибка любой страницы прерывает обход целиком.
func (c *Client) ListPowerUsers(ctx context.Context) ([]int64, error) {
	var (
		fids   []int64
		cursor string
		pages  int
	)
	for {
		query := url.Values{"limit": {strconv.Itoa(powerPageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var resp powerResponse
		if err := c.http.Get(ctx, "user_power", "/v2/farcaster/user/power", query, &resp); err != nil {
			return nil, fmt.Errorf("список power-пользователей, страница %d: %w", pages+1, err)
		}
		pages++
		for _, u := range resp.Users {
			fids = append(fids, u.Fid)
		}
		if resp.Next.Cursor == nil || *resp.Next.Cursor == "" {
			break
		}
		if c.maxPages > 0 && pages >= c.maxPages {
			c.logger.Warn().Int("pages", pages).Msg("neynar: power user page limit reached")
			break
		}
		cursor = *resp.Next.Cursor
		if err := sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}
	c.logger.Debug().Int("pages", pages).Int("fids", len(fids)).Msg("neynar: power users listed")
	return fids, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
