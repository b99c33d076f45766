package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/split-labs/split/internal/auth"
	"github.com/split-labs/split/internal/store"
)

type contextKey string

const workspaceKey contextKey = "workspace_id"

// workspaceFrom returns the authenticated workspace id set by requireAPIKey.
func workspaceFrom(ctx context.Context) string {
	if v, ok := ctx.Value(workspaceKey).(string); ok {
		return v
	}
	return ""
}

// requireAPIKey authenticates the request via a workspace API key carried in
// X-API-Key or an Authorization bearer, and stores the workspace id on the
// request context.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get("X-API-Key")
		if rawKey == "" {
			if bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); strings.HasPrefix(bearer, auth.APIKeyPrefix) {
				rawKey = bearer
			}
		}
		if rawKey == "" {
			writeError(w, http.StatusUnauthorized, "missing api key")
			return
		}

		workspaceID, err := s.store.LookupToken(r.Context(), auth.HashAPIKey(rawKey))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if err != nil {
			s.logger.Error("token lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "auth lookup failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey, workspaceID)))
	})
}

// requireCronSecret protects maintenance endpoints with the shared cron
// bearer secret. An empty configured secret disables the endpoints entirely.
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CronSecret == "" {
			writeError(w, http.StatusForbidden, "maintenance endpoints disabled")
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CronSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
