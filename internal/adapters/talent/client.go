package talent

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"powerfeed/internal/infra/httpclient"
)

// DefaultBaseURL: публичный адрес API паспортов.
const DefaultBaseURL = "https://api.talentprotocol.com"

// Client получает builder score по адресу кошелька.
type Client struct {
	http *httpclient.Client
}

// New создаёт клиента.
func New(baseURL, apiKey string, opts ...httpclient.Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts = append([]httpclient.Option{httpclient.WithHeader("X-API-KEY", apiKey)}, opts...)
	client, err := httpclient.New("talent", baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{http: client}, nil
}

type passportResponse struct {
	Passport struct {
		Score float64 `json:"score"`
	} `json:"passport"`
}

// BuilderScore возвращает score паспорта. Неизвестный адрес даёт domain.ErrNotFound.
func (c *Client) BuilderScore(ctx context.Context, address string) (float64, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return 0, fmt.Errorf("builder score: empty address")
	}
	var resp passportResponse
	if err := c.http.Get(ctx, "passport", "/api/v2/passports/"+url.PathEscape(address), nil, &resp); err != nil {
		return 0, fmt.Errorf("builder score %s: %w", address, err)
	}
	return resp.Passport.Score, nil
}
