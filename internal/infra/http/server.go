package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Server оборачивает chi.Router с базовыми middlewares и API лидерборда.
type Server struct {
	Router chi.Router
	board  domain.LeaderboardReader
	log    zerolog.Logger
}

// NewServer создаёт HTTP сервер только для чтения.
func NewServer(logger zerolog.Logger, board domain.LeaderboardReader) *Server {
	s := &Server{board: board, log: logger.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/leaderboard", s.handleLeaderboard)
		api.Get("/users/{fid}", s.handleUser)
		api.Get("/share/{token}", s.handleShare)
	})
	s.Router = r
	return s
}

// Start запускает http.Server и останавливает его по отмене ctx.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("http: graceful shutdown failed")
		}
	}()
	s.log.Info().Str("addr", addr).Msg("http: server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type entryResponse struct {
	Fid               int64     `json:"fid"`
	Username          string    `json:"username"`
	ProfileImageURL   string    `json:"profile_image_url"`
	Points            int64     `json:"points"`
	ReactionsSent     int64     `json:"reactions_sent"`
	ReactionsReceived int64     `json:"reactions_received"`
	Rank              int64     `json:"rank"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toResponse(e domain.PointsLedgerEntry) entryResponse {
	return entryResponse{
		Fid:               e.Fid,
		Username:          e.Username,
		ProfileImageURL:   e.ProfileImageURL,
		Points:            e.Points,
		ReactionsSent:     e.ReactionsSent,
		ReactionsReceived: e.ReactionsReceived,
		Rank:              e.Rank,
		UpdatedAt:         e.UpdatedAt,
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	entries, err := s.board.Leaderboard(r.Context(), limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("http: leaderboard read failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	fid, err := strconv.ParseInt(chi.URLParam(r, "fid"), 10, 64)
	if err != nil || fid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid fid")
		return
	}
	entry, err := s.board.GetByFid(r.Context(), fid)
	s.writeEntry(w, entry, err)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if len(token) != domain.AccessTokenLength {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	entry, err := s.board.GetByToken(r.Context(), token)
	s.writeEntry(w, entry, err)
}

func (s *Server) writeEntry(w http.ResponseWriter, entry domain.PointsLedgerEntry, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case err != nil:
		s.log.Error().Err(err).Msg("http: ledger read failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, toResponse(entry))
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
