package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/split-labs/split/internal/config"
	"github.com/split-labs/split/internal/models"
)

// memStore models the snapshot table with the same claim semantics as the
// Postgres store: atomic oldest-first claim, lock stamping, stale reclaim.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*models.SnapshotRequest
	used map[string]int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*models.SnapshotRequest), used: make(map[string]int)}
}

func (m *memStore) add(id, userID string, createdAt time.Time) {
	m.rows[id] = &models.SnapshotRequest{
		ID:        id,
		UserID:    userID,
		URLs:      []string{"https://example.com"},
		Topic:     "t",
		Status:    models.StatusPending,
		CreatedAt: createdAt,
	}
}

func (m *memStore) ClaimNextPending(_ context.Context, workerID, userID, requestID string) (*models.SnapshotRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*models.SnapshotRequest
	for _, r := range m.rows {
		if r.Status != models.StatusPending {
			continue
		}
		if userID != "" && r.UserID != userID {
			continue
		}
		if requestID != "" && r.ID != requestID {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })

	r := eligible[0]
	now := time.Now()
	r.Status = models.StatusProcessing
	r.LockedAt = &now
	r.LockedBy = &workerID
	claimed := *r
	return &claimed, nil
}

func (m *memStore) MarkCompleted(_ context.Context, id string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = models.StatusCompleted
	r.Result = result
	r.LockedAt, r.LockedBy = nil, nil
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = models.StatusFailed
	r.LastError = &errMsg
	r.LockedAt, r.LockedBy = nil, nil
	return nil
}

func (m *memStore) ReclaimStale(_ context.Context, threshold time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-threshold)
	for _, r := range m.rows {
		if r.Status == models.StatusProcessing && r.LockedAt != nil && r.LockedAt.Before(cutoff) {
			r.Status = models.StatusPending
			r.LockedAt, r.LockedBy = nil, nil
			n++
		}
	}
	return n, nil
}

func (m *memStore) IncrementUsage(_ context.Context, workspaceID, _ string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[workspaceID] += n
	return nil
}

func (m *memStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	seen   []string
	failOn map[string]error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, snapshotID string, _ []string, topic string) (*models.Scorecard, error) {
	f.mu.Lock()
	f.seen = append(f.seen, snapshotID)
	f.mu.Unlock()
	if err, ok := f.failOn[snapshotID]; ok {
		return nil, err
	}
	return &models.Scorecard{Topic: topic, Overall: 75}, nil
}

func testConfig() config.Config {
	return config.Config{ReclaimAfter: 10 * time.Minute, WorkerPollInterval: time.Millisecond}
}

func TestDrainOnceProcessesFIFO(t *testing.T) {
	st := newMemStore()
	base := time.Now().Add(-time.Hour)
	st.add("c", "u1", base.Add(3*time.Minute))
	st.add("a", "u1", base.Add(1*time.Minute))
	st.add("b", "u1", base.Add(2*time.Minute))

	analyzer := &fakeAnalyzer{}
	p := New(testConfig(), st, analyzer, "w1", nil)

	n, err := p.DrainOnce(context.Background(), "", "")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 3 {
		t.Fatalf("processed = %d, want 3", n)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if analyzer.seen[i] != id {
			t.Fatalf("claim order = %v, want %v (FIFO by created_at)", analyzer.seen, want)
		}
	}
	for _, id := range want {
		if got := st.status(id); got != models.StatusCompleted {
			t.Errorf("status[%s] = %s, want completed", id, got)
		}
	}
	if st.used["u1"] != 3 {
		t.Errorf("usage = %d, want 3", st.used["u1"])
	}
}

func TestDrainOnceIsolatesFailures(t *testing.T) {
	st := newMemStore()
	base := time.Now().Add(-time.Hour)
	st.add("good-1", "u1", base)
	st.add("bad", "u1", base.Add(time.Minute))
	st.add("good-2", "u1", base.Add(2*time.Minute))

	analyzer := &fakeAnalyzer{failOn: map[string]error{"bad": errors.New("crawl quota exhausted")}}
	p := New(testConfig(), st, analyzer, "w1", nil)

	n, err := p.DrainOnce(context.Background(), "", "")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 3 {
		t.Fatalf("processed = %d, want 3 (failure must not stop the drain)", n)
	}
	if got := st.status("bad"); got != models.StatusFailed {
		t.Errorf("status[bad] = %s, want failed", got)
	}
	if msg := *st.rows["bad"].LastError; msg != "crawl quota exhausted" {
		t.Errorf("last_error = %q", msg)
	}
	if st.status("good-1") != models.StatusCompleted || st.status("good-2") != models.StatusCompleted {
		t.Error("healthy jobs should complete despite the failed one")
	}
	if st.used["u1"] != 2 {
		t.Errorf("usage = %d, want 2 (failed jobs are not billed)", st.used["u1"])
	}
}

func TestDrainOnceFiltersByUserAndRequest(t *testing.T) {
	st := newMemStore()
	base := time.Now().Add(-time.Hour)
	st.add("u1-a", "u1", base)
	st.add("u2-a", "u2", base.Add(time.Minute))
	st.add("u1-b", "u1", base.Add(2*time.Minute))

	p := New(testConfig(), st, &fakeAnalyzer{}, "w1", nil)

	n, err := p.DrainOnce(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 {
		t.Fatalf("processed = %d, want 2 (only u1's jobs)", n)
	}
	if got := st.status("u2-a"); got != models.StatusPending {
		t.Errorf("status[u2-a] = %s, want pending", got)
	}

	n, err = p.DrainOnce(context.Background(), "", "u2-a")
	if err != nil {
		t.Fatalf("drain by request id: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
}

func TestConcurrentDrainsNeverDoubleProcess(t *testing.T) {
	st := newMemStore()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		st.add(fmt.Sprintf("job-%02d", i), "u1", base.Add(time.Duration(i)*time.Second))
	}

	analyzer := &fakeAnalyzer{}
	var wg sync.WaitGroup
	total := make([]int, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			p := New(testConfig(), st, analyzer, fmt.Sprintf("w%d", w), nil)
			n, _ := p.DrainOnce(context.Background(), "", "")
			total[w] = n
		}(w)
	}
	wg.Wait()

	sum := 0
	for _, n := range total {
		sum += n
	}
	if sum != 20 {
		t.Fatalf("total processed = %d, want exactly 20", sum)
	}
	seen := make(map[string]int)
	for _, id := range analyzer.seen {
		seen[id]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("job %s processed %d times", id, count)
		}
	}
}

func TestReclaimResetsOnlyStaleRows(t *testing.T) {
	st := newMemStore()
	now := time.Now()
	st.add("stale", "u1", now.Add(-time.Hour))
	st.add("fresh", "u1", now.Add(-time.Hour))

	old := now.Add(-15 * time.Minute)
	recent := now.Add(-1 * time.Minute)
	w := "dead-worker"
	st.rows["stale"].Status = models.StatusProcessing
	st.rows["stale"].LockedAt = &old
	st.rows["stale"].LockedBy = &w
	st.rows["fresh"].Status = models.StatusProcessing
	st.rows["fresh"].LockedAt = &recent
	st.rows["fresh"].LockedBy = &w

	p := New(testConfig(), st, &fakeAnalyzer{}, "w1", nil)

	n, err := p.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}
	if got := st.status("stale"); got != models.StatusPending {
		t.Errorf("status[stale] = %s, want pending", got)
	}
	if st.rows["stale"].LockedBy != nil {
		t.Error("reclaim should clear lock owner")
	}
	if got := st.status("fresh"); got != models.StatusProcessing {
		t.Errorf("status[fresh] = %s, want processing (younger than threshold)", got)
	}

	// Second run with nothing newly stale is a no-op.
	n, err = p.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("reclaim again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second reclaim = %d, want 0", n)
	}
}
