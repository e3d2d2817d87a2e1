package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/metrics"
)

// Client: JSON-клиент внешнего API с метриками запросов.
type Client struct {
	component  string
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
}

// Option настраивает клиента.
type Option func(*Client)

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHeader добавляет заголовок ко всем запросам.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// StatusError: ответ внешнего API с кодом не из 2xx.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d message=%s", e.Status, e.Message)
}

// Temporary сообщает, имеет ли смысл повторить запрос.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// New создаёт клиента. component используется в метриках и ошибках.
func New(component, baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%s: baseURL is required", component)
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", component, err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	client := &Client{
		component:  component,
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		headers:    http.Header{"Accept": []string{"application/json"}},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Get выполняет GET и декодирует JSON в out.
func (c *Client) Get(ctx context.Context, op, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, op, out)
}

// Post выполняет POST с JSON-телом и декодирует JSON в out.
func (c *Client) Post(ctx context.Context, op, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	return c.do(req, op, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	if endpoint != "" {
		basePath := strings.TrimSuffix(c.baseURL.Path, "/")
		resolved.Path = path.Clean(basePath + "/" + strings.TrimPrefix(endpoint, "/"))
	}
	if len(query) > 0 {
		merged := resolved.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		resolved.RawQuery = merged.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest(c.component, op, req.URL.Host, start, err)
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.component, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s api error: %w", c.component, &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))})
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode response: %w", c.component, err)
	}
	return nil
}

// IsTemporary сообщает, что ошибку можно повторить.
func IsTemporary(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, domain.ErrNotFound)
}
