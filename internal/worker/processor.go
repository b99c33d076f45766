// Package worker drains the snapshot queue: claim one pending row, run the
// visibility analysis, persist the scorecard. Failures are isolated per row;
// the only recovery path for a crashed worker is the time-based reclaimer.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/split-labs/split/internal/config"
	"github.com/split-labs/split/internal/models"
	"github.com/split-labs/split/internal/store"
	"github.com/split-labs/split/internal/telemetry"
)

// Store is the persistence surface the processor needs.
type Store interface {
	ClaimNextPending(ctx context.Context, workerID, userID, requestID string) (*models.SnapshotRequest, error)
	MarkCompleted(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error)
	IncrementUsage(ctx context.Context, workspaceID, period string, n int) error
}

// Analyzer produces a scorecard for a claimed snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, snapshotID string, urls []string, topic string) (*models.Scorecard, error)
}

// Processor drives the claim/analyze/complete loop.
type Processor struct {
	cfg      config.Config
	store    Store
	analyzer Analyzer
	workerID string
	logger   *slog.Logger
}

// New constructs a processor. workerID distinguishes this process in the
// locked_by column.
func New(cfg config.Config, st Store, analyzer Analyzer, workerID string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		store:    st,
		analyzer: analyzer,
		workerID: workerID,
		logger:   logger,
	}
}

// DrainOnce claims and processes jobs until the eligible set is empty,
// returning how many were processed. userID and requestID narrow the eligible
// set when non-empty. A job failing never aborts the drain: the error lands
// on that row and the loop claims the next one.
func (p *Processor) DrainOnce(ctx context.Context, userID, requestID string) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		req, err := p.store.ClaimNextPending(ctx, p.workerID, userID, requestID)
		if err != nil {
			return processed, fmt.Errorf("claim: %w", err)
		}
		if req == nil {
			return processed, nil // queue empty
		}

		p.processOne(ctx, req)
		processed++

		// An explicit request id matches at most one row.
		if requestID != "" {
			return processed, nil
		}
	}
}

// processOne runs the analysis for a claimed row and records the outcome on
// that row only.
func (p *Processor) processOne(ctx context.Context, req *models.SnapshotRequest) {
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	p.logger.Info("processing snapshot", "snapshot_id", req.ID, "user_id", req.UserID, "urls", len(req.URLs))

	card, err := p.analyzer.Analyze(ctx, req.ID, req.URLs, req.Topic)
	if err != nil {
		p.logger.Error("snapshot analysis failed", "snapshot_id", req.ID, "error", err)
		if failErr := p.store.MarkFailed(ctx, req.ID, err.Error()); failErr != nil {
			p.logger.Error("mark failed error", "snapshot_id", req.ID, "error", failErr)
		}
		telemetry.SnapshotsFailed.Inc()
		return
	}

	result, err := json.Marshal(card)
	if err != nil {
		p.logger.Error("marshal scorecard failed", "snapshot_id", req.ID, "error", err)
		_ = p.store.MarkFailed(ctx, req.ID, "encode result: "+err.Error())
		telemetry.SnapshotsFailed.Inc()
		return
	}

	if err := p.store.MarkCompleted(ctx, req.ID, result); err != nil {
		p.logger.Error("mark completed error", "snapshot_id", req.ID, "error", err)
		return
	}
	if err := p.store.IncrementUsage(ctx, req.UserID, store.CurrentPeriod(), 1); err != nil {
		p.logger.Error("increment usage error", "snapshot_id", req.ID, "error", err)
	}
	telemetry.SnapshotsCompleted.Inc()
	p.logger.Info("snapshot completed", "snapshot_id", req.ID, "overall", card.Overall)
}

// Run polls the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.cfg.WorkerPollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("worker started", "worker_id", p.workerID, "poll_interval", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.DrainOnce(ctx, "", ""); err != nil && ctx.Err() == nil {
				p.logger.Error("drain error", "error", err)
			}
		}
	}
}

// Reclaim resets rows stuck in processing past the configured threshold back
// to pending. Safe to run on a schedule or on demand.
func (p *Processor) Reclaim(ctx context.Context) (int64, error) {
	n, err := p.store.ReclaimStale(ctx, p.cfg.ReclaimAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.SnapshotsReclaimed.Add(float64(n))
		p.logger.Info("reclaimed stale snapshots", "count", n, "threshold", p.cfg.ReclaimAfter)
	}
	return n, nil
}
