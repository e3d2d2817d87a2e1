package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"powerfeed/internal/domain"
)

func TestClientGetDecodesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/base/v2/item" {
			t.Errorf("неверный путь %s", r.URL.Path)
		}
		if r.URL.Query().Get("fids") != "7" {
			t.Errorf("неверный query %s", r.URL.RawQuery)
		}
		if r.Header.Get("api_key") != "secret" {
			t.Errorf("нет заголовка api_key")
		}
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	client, err := New("test", srv.URL+"/base/", WithHeader("api_key", "secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out struct {
		Value int `json:"value"`
	}
	if err := client.Get(context.Background(), "get_item", "/v2/item", url.Values{"fids": {"7"}}, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("ожидали 42, получили %d", out.Value)
	}
}

func TestClientErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantNotFound  bool
		wantTemporary bool
	}{
		{name: "not found", status: http.StatusNotFound, wantNotFound: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantTemporary: true},
		{name: "server error", status: http.StatusBadGateway, wantTemporary: true},
		{name: "bad request", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			client, err := New("test", srv.URL)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			err = client.Post(context.Background(), "post", "/x", map[string]int{"a": 1}, nil)
			if err == nil {
				t.Fatalf("ожидали ошибку")
			}
			if errors.Is(err, domain.ErrNotFound) != tt.wantNotFound {
				t.Fatalf("ErrNotFound = %v, want %v (%v)", errors.Is(err, domain.ErrNotFound), tt.wantNotFound, err)
			}
			if IsTemporary(err) != tt.wantTemporary {
				t.Fatalf("IsTemporary = %v, want %v", IsTemporary(err), tt.wantTemporary)
			}
		})
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("test", ""); err == nil {
		t.Fatalf("ожидали ошибку без baseURL")
	}
}
