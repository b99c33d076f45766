package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/split-labs/split/internal/auth"
	"github.com/split-labs/split/internal/config"
	"github.com/split-labs/split/internal/models"
	"github.com/split-labs/split/internal/store"
	"github.com/split-labs/split/internal/worker"
)

// testStore is an in-memory double for both the API store and the worker
// store, with the same claim/reclaim semantics as Postgres.
type testStore struct {
	mu        sync.Mutex
	snapshots map[string]*models.SnapshotRequest
	visits    []models.CrawlerVisit
	tokens    map[string]string // key hash -> workspace
	tokenExp  map[string]time.Time
	usage     map[string]int
	staleStub int64
}

func newTestStore() *testStore {
	return &testStore{
		snapshots: make(map[string]*models.SnapshotRequest),
		tokens:    make(map[string]string),
		tokenExp:  make(map[string]time.Time),
		usage:     make(map[string]int),
	}
}

func (t *testStore) CreateSnapshot(_ context.Context, userID string, urls []string, topic string) (models.SnapshotRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := models.SnapshotRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		URLs:      urls,
		Topic:     topic,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	t.snapshots[snap.ID] = &snap
	return snap, nil
}

func (t *testStore) GetSnapshot(_ context.Context, id string) (models.SnapshotRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap, ok := t.snapshots[id]; ok {
		return *snap, nil
	}
	return models.SnapshotRequest{}, store.ErrNotFound
}

func (t *testStore) ListSnapshots(_ context.Context, userID string, limit, offset int) ([]models.SnapshotRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []models.SnapshotRequest
	for _, snap := range t.snapshots {
		if snap.UserID == userID {
			out = append(out, *snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *testStore) InsertVisit(_ context.Context, v models.CrawlerVisit) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v.ID = uuid.New().String()
	if v.VisitedAt.IsZero() {
		v.VisitedAt = time.Now()
	}
	t.visits = append(t.visits, v)
	return v.ID, nil
}

func (t *testStore) VisitSummary(_ context.Context, workspaceID string, since time.Time) ([]models.VisitCount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[string]*models.VisitCount)
	for _, v := range t.visits {
		if v.WorkspaceID != workspaceID || v.VisitedAt.Before(since) {
			continue
		}
		if c, ok := counts[v.Crawler]; ok {
			c.Count++
		} else {
			counts[v.Crawler] = &models.VisitCount{Crawler: v.Crawler, Vendor: v.Vendor, Count: 1}
		}
	}
	var out []models.VisitCount
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (t *testStore) LookupToken(_ context.Context, keyHash string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ws, ok := t.tokens[keyHash]
	if !ok {
		return "", store.ErrNotFound
	}
	if exp, ok := t.tokenExp[keyHash]; ok && !exp.After(time.Now()) {
		return "", store.ErrNotFound
	}
	return ws, nil
}

func (t *testStore) ReclaimStale(_ context.Context, threshold time.Duration) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-threshold)
	for _, snap := range t.snapshots {
		if snap.Status == models.StatusProcessing && snap.LockedAt != nil && snap.LockedAt.Before(cutoff) {
			snap.Status = models.StatusPending
			snap.LockedAt, snap.LockedBy = nil, nil
			n++
		}
	}
	return n, nil
}

func (t *testStore) ResetAllUsage(context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for ws, used := range t.usage {
		if used != 0 {
			t.usage[ws] = 0
			n++
		}
	}
	return n, nil
}

func (t *testStore) CleanupExpiredTokens(context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for hash, exp := range t.tokenExp {
		if !exp.After(time.Now()) {
			delete(t.tokens, hash)
			delete(t.tokenExp, hash)
			n++
		}
	}
	return n, nil
}

// Worker-side surface.

func (t *testStore) ClaimNextPending(_ context.Context, workerID, userID, requestID string) (*models.SnapshotRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var eligible []*models.SnapshotRequest
	for _, snap := range t.snapshots {
		if snap.Status != models.StatusPending {
			continue
		}
		if userID != "" && snap.UserID != userID {
			continue
		}
		if requestID != "" && snap.ID != requestID {
			continue
		}
		eligible = append(eligible, snap)
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })
	snap := eligible[0]
	now := time.Now()
	snap.Status = models.StatusProcessing
	snap.LockedAt = &now
	snap.LockedBy = &workerID
	claimed := *snap
	return &claimed, nil
}

func (t *testStore) MarkCompleted(_ context.Context, id string, result json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snapshots[id]
	snap.Status = models.StatusCompleted
	snap.Result = result
	snap.LockedAt, snap.LockedBy = nil, nil
	return nil
}

func (t *testStore) MarkFailed(_ context.Context, id, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snapshots[id]
	snap.Status = models.StatusFailed
	snap.LastError = &errMsg
	snap.LockedAt, snap.LockedBy = nil, nil
	return nil
}

func (t *testStore) IncrementUsage(_ context.Context, workspaceID, _ string, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[workspaceID] += n
	return nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, _ string, urls []string, topic string) (*models.Scorecard, error) {
	reports := make([]models.URLReport, len(urls))
	for i, u := range urls {
		reports[i] = models.URLReport{URL: u, Cited: true, VisibilityScore: 100}
	}
	return &models.Scorecard{Topic: topic, Overall: 100, CitedURLs: len(urls), Reports: reports}, nil
}

type allowAllLimiter struct{ allowed bool }

func (l allowAllLimiter) Allow(context.Context, string) (bool, float64, error) {
	return l.allowed, 1, nil
}

const testCronSecret = "cron-secret"

// newTestServer returns a server wired to in-memory fakes plus a valid API
// key for workspace ws-1.
func newTestServer(t *testing.T) (*Server, *testStore, string) {
	t.Helper()
	st := newTestStore()
	rawKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	st.tokens[keyHash] = "ws-1"

	cfg := config.Config{
		CronSecret:         testCronSecret,
		ReclaimAfter:       10 * time.Minute,
		MaxURLsPerSnapshot: 10,
	}
	drainer := worker.New(cfg, st, stubAnalyzer{}, "test-worker", nil)
	srv := New(cfg, st, drainer, allowAllLimiter{allowed: true}, nil, nil)
	return srv, st, rawKey
}

// seedKey registers a fresh API key for the workspace and returns the raw key.
func seedKey(t *testing.T, st *testStore, workspace string) string {
	t.Helper()
	rawKey, keyHash, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	st.tokens[keyHash] = workspace
	return rawKey
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string, []string, string) (*models.Scorecard, error) {
	return nil, errors.New("answer engine unavailable")
}

// newCronRequest builds a request authorized with the cron bearer secret.
func newCronRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	return req
}

func doCron(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, handler http.Handler, method, path, apiKey string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}
