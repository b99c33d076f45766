package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/split-labs/split/internal/models"
	"github.com/split-labs/split/internal/ratelimit"
	"github.com/split-labs/split/internal/store"
	"github.com/split-labs/split/internal/telemetry"
)

type submitSnapshotRequest struct {
	URLs  []string `json:"urls"`
	Topic string   `json:"topic"`
}

type snapshotStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitSnapshot(w http.ResponseWriter, r *http.Request) {
	var req submitSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}
	maxURLs := s.cfg.MaxURLsPerSnapshot
	if maxURLs == 0 {
		maxURLs = 10
	}
	if len(req.URLs) > maxURLs {
		writeError(w, http.StatusBadRequest, "too many urls (max "+strconv.Itoa(maxURLs)+")")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	for _, raw := range req.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeError(w, http.StatusBadRequest, "invalid url: "+raw)
			return
		}
	}

	workspaceID := workspaceFrom(r.Context())
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.SubmitKey(workspaceID))
		if err != nil {
			s.logger.Error("rate limit check failed", "error", err)
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	snap, err := s.store.CreateSnapshot(r.Context(), workspaceID, req.URLs, req.Topic)
	if err != nil {
		s.logger.Error("create snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create snapshot failed")
		return
	}
	telemetry.SnapshotsSubmitted.Inc()

	writeJSON(w, http.StatusAccepted, snapshotStatusResponse{ID: snap.ID, Status: snap.Status})
}

func (s *Server) handleSnapshotStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.fetchOwnedSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotStatusResponse{ID: snap.ID, Status: snap.Status})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.fetchOwnedSnapshot(w, r)
	if !ok {
		return
	}
	// Lock metadata is internal; the UI polls status and reads results.
	snap.LockedAt, snap.LockedBy = nil, nil
	if snap.Status != models.StatusCompleted {
		snap.Result = nil
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	snaps, err := s.store.ListSnapshots(r.Context(), workspaceFrom(r.Context()), limit, offset)
	if err != nil {
		s.logger.Error("list snapshots failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list snapshots failed")
		return
	}
	for i := range snaps {
		snaps[i].LockedAt, snaps[i].LockedBy = nil, nil
		if snaps[i].Status != models.StatusCompleted {
			snaps[i].Result = nil
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "offset": offset})
}

// fetchOwnedSnapshot loads the row and enforces workspace ownership. A row
// belonging to another workspace reads as 404, not 403, to avoid leaking ids.
func (s *Server) fetchOwnedSnapshot(w http.ResponseWriter, r *http.Request) (models.SnapshotRequest, bool) {
	id := chi.URLParam(r, "id")
	snap, err := s.store.GetSnapshot(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return models.SnapshotRequest{}, false
	}
	if err != nil {
		s.logger.Error("get snapshot failed", "snapshot_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get snapshot failed")
		return models.SnapshotRequest{}, false
	}
	if snap.UserID != workspaceFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return models.SnapshotRequest{}, false
	}
	return snap, true
}

type processSnapshotRequest struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

type processSnapshotResponse struct {
	Success        bool `json:"success"`
	ProcessedCount int  `json:"processedCount"`
}

func (s *Server) handleProcessSnapshot(w http.ResponseWriter, r *http.Request) {
	var req processSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" && req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "user_id or request_id is required")
		return
	}

	n, err := s.drainer.DrainOnce(r.Context(), req.UserID, req.RequestID)
	if err != nil {
		s.logger.Error("process snapshot failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, processSnapshotResponse{Success: false, ProcessedCount: n})
		return
	}
	writeJSON(w, http.StatusOK, processSnapshotResponse{Success: true, ProcessedCount: n})
}
