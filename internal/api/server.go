// Package api wires the HTTP surface: snapshot submission and retrieval,
// crawler-visit tracking, the worker drain trigger, and cron maintenance.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/split-labs/split/internal/cache"
	"github.com/split-labs/split/internal/config"
	"github.com/split-labs/split/internal/models"
	"github.com/split-labs/split/internal/telemetry"
)

// Store is the persistence surface the handlers need.
type Store interface {
	CreateSnapshot(ctx context.Context, userID string, urls []string, topic string) (models.SnapshotRequest, error)
	GetSnapshot(ctx context.Context, id string) (models.SnapshotRequest, error)
	ListSnapshots(ctx context.Context, userID string, limit, offset int) ([]models.SnapshotRequest, error)
	InsertVisit(ctx context.Context, v models.CrawlerVisit) (string, error)
	VisitSummary(ctx context.Context, workspaceID string, since time.Time) ([]models.VisitCount, error)
	LookupToken(ctx context.Context, keyHash string) (string, error)
	ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error)
	ResetAllUsage(ctx context.Context) (int64, error)
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// Drainer triggers queue processing for the process-snapshot endpoint.
type Drainer interface {
	DrainOnce(ctx context.Context, userID, requestID string) (int, error)
}

// Limiter guards snapshot submissions per workspace.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the Split API.
type Server struct {
	cfg     config.Config
	store   Store
	drainer Drainer
	limiter Limiter     // nil disables rate limiting
	cache   cache.Cache // nil disables response caching
	logger  *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st Store, drainer Drainer, limiter Limiter, c cache.Cache, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		drainer: drainer,
		limiter: limiter,
		cache:   c,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/snapshots", s.handleSubmitSnapshot)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Get("/snapshots/{id}", s.handleGetSnapshot)
		r.Get("/snapshots/{id}/status", s.handleSnapshotStatus)
		r.Post("/track", s.handleTrack)
		r.Get("/visits/summary", s.handleVisitSummary)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireCronSecret)
		r.Post("/process-snapshot", s.handleProcessSnapshot)
		r.Post("/cron/reclaim-snapshots", s.handleReclaimSnapshots)
		r.Post("/cron/reset-usage", s.handleResetUsage)
		r.Post("/cron/cleanup-tokens", s.handleCleanupTokens)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
