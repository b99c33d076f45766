package store

import (
	"context"
	"fmt"
	"time"
)

// CurrentPeriod returns the billing period key for now (YYYY-MM, UTC).
func CurrentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// IncrementUsage bumps the workspace's snapshot counter for the period.
func (s *Store) IncrementUsage(ctx context.Context, workspaceID, period string, n int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_counters (workspace_id, period, snapshots)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, period) DO UPDATE
		SET snapshots = usage_counters.snapshots + EXCLUDED.snapshots
	`, workspaceID, period, n)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// GetUsage returns the snapshot count for a workspace and period. Missing
// rows read as zero.
func (s *Store) GetUsage(ctx context.Context, workspaceID, period string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(snapshots), 0) FROM usage_counters
		WHERE workspace_id = $1 AND period = $2
	`, workspaceID, period).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return n, nil
}

// ResetAllUsage zeroes every counter for periods before the current one.
// Safe to re-run: a second call affects no additional rows.
func (s *Store) ResetAllUsage(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE usage_counters SET snapshots = 0
		WHERE period < $1 AND snapshots <> 0
	`, CurrentPeriod())
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
