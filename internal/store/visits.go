package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/split-labs/split/internal/models"
)

// InsertVisit logs one detected crawler hit. Visits are append-only.
func (s *Store) InsertVisit(ctx context.Context, v models.CrawlerVisit) (string, error) {
	id := v.ID
	if id == "" {
		id = uuid.New().String()
	}
	visitedAt := v.VisitedAt
	if visitedAt.IsZero() {
		visitedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawler_visits (id, workspace_id, domain, path, crawler, vendor, purpose, user_agent, visited_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, v.WorkspaceID, v.Domain, v.Path, v.Crawler, v.Vendor, v.Purpose, v.UserAgent, visitedAt)
	if err != nil {
		return "", fmt.Errorf("insert visit: %w", err)
	}
	return id, nil
}

// VisitSummary aggregates visits per crawler for a workspace since the given
// time, most-visited first.
func (s *Store) VisitSummary(ctx context.Context, workspaceID string, since time.Time) ([]models.VisitCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT crawler, vendor, COUNT(*) FROM crawler_visits
		WHERE workspace_id = $1 AND visited_at >= $2
		GROUP BY crawler, vendor
		ORDER BY COUNT(*) DESC
	`, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("visit summary: %w", err)
	}
	defer rows.Close()

	var out []models.VisitCount
	for rows.Next() {
		var vc models.VisitCount
		if err := rows.Scan(&vc.Crawler, &vc.Vendor, &vc.Count); err != nil {
			return nil, fmt.Errorf("scan visit count: %w", err)
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}
