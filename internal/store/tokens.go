package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertToken stores a hashed API key for a workspace. expiresAt may be nil
// for non-expiring keys.
func (s *Store) InsertToken(ctx context.Context, keyHash, workspaceID string, expiresAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_tokens (key_hash, workspace_id, expires_at)
		VALUES ($1, $2, $3)
	`, keyHash, workspaceID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// LookupToken resolves a key hash to its workspace. Expired or unknown keys
// return ErrNotFound.
func (s *Store) LookupToken(ctx context.Context, keyHash string) (string, error) {
	var workspaceID string
	err := s.pool.QueryRow(ctx, `
		SELECT workspace_id FROM api_tokens
		WHERE key_hash = $1 AND (expires_at IS NULL OR expires_at > now())
	`, keyHash).Scan(&workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return workspaceID, nil
}

// CleanupExpiredTokens deletes tokens past their expiry. Re-running with
// nothing newly expired deletes zero rows.
func (s *Store) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("cleanup tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
