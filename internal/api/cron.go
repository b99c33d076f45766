package api

import "net/http"

type maintenanceResponse struct {
	Success  bool  `json:"success"`
	Affected int64 `json:"affected"`
}

// handleReclaimSnapshots resets rows stuck in processing past the configured
// threshold. The scheduled worker does the same on a timer; this endpoint is
// the on-demand path.
func (s *Server) handleReclaimSnapshots(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ReclaimStale(r.Context(), s.cfg.ReclaimAfter)
	if err != nil {
		s.logger.Error("reclaim failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reclaim failed")
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{Success: true, Affected: n})
}

func (s *Server) handleResetUsage(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ResetAllUsage(r.Context())
	if err != nil {
		s.logger.Error("reset usage failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reset usage failed")
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{Success: true, Affected: n})
}

func (s *Server) handleCleanupTokens(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CleanupExpiredTokens(r.Context())
	if err != nil {
		s.logger.Error("cleanup tokens failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cleanup tokens failed")
		return
	}
	writeJSON(w, http.StatusOK, maintenanceResponse{Success: true, Affected: n})
}
