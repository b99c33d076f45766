package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/split-labs/split/internal/models"
)

const snapshotColumns = `id, user_id, urls, topic, status, result, last_error, locked_at, locked_by, created_at, updated_at`

// CreateSnapshot inserts a new pending request and returns it.
func (s *Store) CreateSnapshot(ctx context.Context, userID string, urls []string, topic string) (models.SnapshotRequest, error) {
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return models.SnapshotRequest{}, fmt.Errorf("marshal urls: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO snapshot_requests (id, user_id, urls, topic, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, userID, urlsJSON, topic, models.StatusPending, now)
	if err != nil {
		return models.SnapshotRequest{}, fmt.Errorf("insert snapshot request: %w", err)
	}

	return models.SnapshotRequest{
		ID:        id,
		UserID:    userID,
		URLs:      urls,
		Topic:     topic,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetSnapshot fetches one request by id. Returns ErrNotFound for unknown ids.
func (s *Store) GetSnapshot(ctx context.Context, id string) (models.SnapshotRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+` FROM snapshot_requests WHERE id = $1
	`, id)
	req, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SnapshotRequest{}, ErrNotFound
	}
	return req, err
}

// ListSnapshots returns a user's request history, newest first.
func (s *Store) ListSnapshots(ctx context.Context, userID string, limit, offset int) ([]models.SnapshotRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM snapshot_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.SnapshotRequest
	for rows.Next() {
		req, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ClaimNextPending atomically transitions the oldest eligible pending request
// to processing and stamps the lock columns. userID and requestID narrow the
// eligible set when non-empty. The select-and-update is a single statement
// with FOR UPDATE SKIP LOCKED, so concurrent callers never claim the same
// row. Returns (nil, nil) when the queue is empty, not an error.
func (s *Store) ClaimNextPending(ctx context.Context, workerID, userID, requestID string) (*models.SnapshotRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE snapshot_requests
		SET status = $1, locked_at = now(), locked_by = $2, updated_at = now()
		WHERE id = (
			SELECT id FROM snapshot_requests
			WHERE status = $3
			  AND ($4 = '' OR user_id = $4)
			  AND ($5 = '' OR id = $5)
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+snapshotColumns+`
	`, models.StatusProcessing, workerID, models.StatusPending, userID, requestID)

	req, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// MarkCompleted stores the result payload and releases the lock.
func (s *Store) MarkCompleted(ctx context.Context, id string, result json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE snapshot_requests
		SET status = $2, result = $3, last_error = NULL, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE id = $1
	`, id, models.StatusCompleted, result)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records the error message on the row and releases the lock.
// Failed requests are never retried automatically; resubmission is manual.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE snapshot_requests
		SET status = $2, last_error = $3, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE id = $1
	`, id, models.StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ReclaimStale resets requests stuck in processing longer than threshold back
// to pending, clearing lock fields. Returns the number of rows reset; running
// it again with no newly-stale rows affects zero rows.
func (s *Store) ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE snapshot_requests
		SET status = $1, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE status = $2 AND locked_at < now() - $3::interval
	`, models.StatusPending, models.StatusProcessing, fmt.Sprintf("%f seconds", threshold.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (models.SnapshotRequest, error) {
	var req models.SnapshotRequest
	var urlsJSON []byte
	var result []byte
	var lastErr, lockedBy pgtype.Text
	var lockedAt pgtype.Timestamptz

	err := row.Scan(&req.ID, &req.UserID, &urlsJSON, &req.Topic, &req.Status, &result,
		&lastErr, &lockedAt, &lockedBy, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return models.SnapshotRequest{}, err
	}
	if err := json.Unmarshal(urlsJSON, &req.URLs); err != nil {
		return models.SnapshotRequest{}, fmt.Errorf("unmarshal urls: %w", err)
	}
	if len(result) > 0 {
		req.Result = json.RawMessage(result)
	}
	req.LastError = textPtr(lastErr)
	req.LockedBy = textPtr(lockedBy)
	if lockedAt.Valid {
		t := lockedAt.Time
		req.LockedAt = &t
	}
	return req, nil
}
