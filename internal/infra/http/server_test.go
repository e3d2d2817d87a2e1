package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
)

type stubBoard struct {
	entries    []domain.PointsLedgerEntry
	err        error
	lastLimit  int
	lastOffset int
}

func (s *stubBoard) Leaderboard(ctx context.Context, limit, offset int) ([]domain.PointsLedgerEntry, error) {
	s.lastLimit, s.lastOffset = limit, offset
	return s.entries, s.err
}

func (s *stubBoard) GetByFid(ctx context.Context, fid int64) (domain.PointsLedgerEntry, error) {
	for _, e := range s.entries {
		if e.Fid == fid {
			return e, nil
		}
	}
	return domain.PointsLedgerEntry{}, domain.ErrNotFound
}

func (s *stubBoard) GetByToken(ctx context.Context, token string) (domain.PointsLedgerEntry, error) {
	for _, e := range s.entries {
		if e.AccessToken == token {
			return e, nil
		}
	}
	return domain.PointsLedgerEntry{}, domain.ErrNotFound
}

const shareToken = "AAAAAAAAAAAAAAAAAAAAAA"

func newBoard() *stubBoard {
	return &stubBoard{entries: []domain.PointsLedgerEntry{
		{ID: 1, Fid: 10, Username: "alice", Points: 50, Rank: 1, AccessToken: shareToken},
		{ID: 2, Fid: 20, Username: "bob", Points: 30, Rank: 2, AccessToken: "BBBBBBBBBBBBBBBBBBBBBB"},
	}}
}

func TestServerRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantFid    int64
	}{
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK},
		{name: "user", path: "/api/v1/users/10", wantStatus: http.StatusOK, wantFid: 10},
		{name: "user missing", path: "/api/v1/users/99", wantStatus: http.StatusNotFound},
		{name: "user bad fid", path: "/api/v1/users/abc", wantStatus: http.StatusBadRequest},
		{name: "share", path: "/api/v1/share/" + shareToken, wantStatus: http.StatusOK, wantFid: 10},
		{name: "share short token", path: "/api/v1/share/abc", wantStatus: http.StatusNotFound},
		{name: "leaderboard bad limit", path: "/api/v1/leaderboard?limit=x", wantStatus: http.StatusBadRequest},
		{name: "leaderboard negative offset", path: "/api/v1/leaderboard?offset=-1", wantStatus: http.StatusBadRequest},
	}
	srv := NewServer(zerolog.Nop(), newBoard())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("ожидали %d, получили %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantFid == 0 {
				return
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("ответ не JSON: %v", err)
			}
			if int64(body["fid"].(float64)) != tt.wantFid {
				t.Fatalf("неверный fid: %v", body)
			}
			if _, leaked := body["access_token"]; leaked {
				t.Fatalf("токен не должен отдаваться наружу")
			}
		})
	}
}

func TestLeaderboardPaging(t *testing.T) {
	board := newBoard()
	srv := NewServer(zerolog.Nop(), board)

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard?limit=1000&offset=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if board.lastLimit != maxPageSize || board.lastOffset != 5 {
		t.Fatalf("неверные limit/offset: %d/%d", board.lastLimit, board.lastOffset)
	}
	var body struct {
		Items []entryResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if len(body.Items) != 2 || body.Items[0].Rank != 1 {
		t.Fatalf("неверный список: %+v", body.Items)
	}
}

func TestLeaderboardStoreError(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &stubBoard{err: errors.New("db down")})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("ожидали 500, получили %d", rec.Code)
	}
}
