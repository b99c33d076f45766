package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/split-labs/split/internal/cache"
	"github.com/split-labs/split/internal/detect"
	"github.com/split-labs/split/internal/models"
	"github.com/split-labs/split/internal/telemetry"
)

type trackRequest struct {
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	UserAgent string `json:"user_agent"`
}

type trackResponse struct {
	Recorded       bool                  `json:"recorded"`
	Classification detect.Classification `json:"classification"`
}

// handleTrack classifies the reported user agent and logs a visit only when
// it belongs to a known AI vendor. Generic bots and humans are classified but
// not stored.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	if req.Path == "" {
		req.Path = "/"
	}
	ua := req.UserAgent
	if ua == "" {
		ua = r.UserAgent()
	}

	cls := detect.Classify(ua)
	if cls.Category != detect.CategoryAI {
		writeJSON(w, http.StatusOK, trackResponse{Recorded: false, Classification: cls})
		return
	}

	workspaceID := workspaceFrom(r.Context())
	_, err := s.store.InsertVisit(r.Context(), models.CrawlerVisit{
		WorkspaceID: workspaceID,
		Domain:      req.Domain,
		Path:        req.Path,
		Crawler:     cls.Crawler,
		Vendor:      cls.Vendor,
		Purpose:     cls.Purpose,
		UserAgent:   ua,
	})
	if err != nil {
		s.logger.Error("insert visit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "record visit failed")
		return
	}
	telemetry.CrawlerVisits.WithLabelValues(cls.Vendor).Inc()

	// The summary is aggregated from storage; drop the cached copy so the
	// next read reflects this visit within the TTL window.
	if s.cache != nil {
		_ = s.cache.Delete(r.Context(), visitSummaryKey(workspaceID))
	}

	writeJSON(w, http.StatusCreated, trackResponse{Recorded: true, Classification: cls})
}

func visitSummaryKey(workspaceID string) string {
	return "visits:summary:" + workspaceID
}

type visitSummaryResponse struct {
	WindowDays int                 `json:"window_days"`
	Visits     []models.VisitCount `json:"visits"`
}

// handleVisitSummary returns per-crawler visit counts over the last 30 days,
// cached per workspace.
func (s *Server) handleVisitSummary(w http.ResponseWriter, r *http.Request) {
	workspaceID := workspaceFrom(r.Context())
	key := visitSummaryKey(workspaceID)

	if s.cache != nil {
		if raw, err := s.cache.Get(r.Context(), key); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write(raw)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("visit summary cache read failed", "error", err)
		}
	}

	since := time.Now().AddDate(0, 0, -30)
	counts, err := s.store.VisitSummary(r.Context(), workspaceID, since)
	if err != nil {
		s.logger.Error("visit summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "visit summary failed")
		return
	}
	if counts == nil {
		counts = []models.VisitCount{}
	}

	payload, err := json.Marshal(visitSummaryResponse{WindowDays: 30, Visits: counts})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode summary failed")
		return
	}
	if s.cache != nil {
		ttl := s.cfg.VisitCacheTTL
		if ttl == 0 {
			ttl = time.Minute
		}
		if err := s.cache.Set(r.Context(), key, payload, ttl); err != nil {
			s.logger.Warn("visit summary cache write failed", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}
