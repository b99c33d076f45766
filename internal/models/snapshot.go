package models

import (
	"encoding/json"
	"time"
)

// Snapshot lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SnapshotRequest is one unit of visibility-analysis work: a set of URLs to
// score against a topic. Rows move pending -> processing -> completed/failed,
// or back to pending when the stale-lock reclaimer resets an abandoned claim.
type SnapshotRequest struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	URLs      []string        `json:"urls"`
	Topic     string          `json:"topic"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	LastError *string         `json:"last_error,omitempty"`
	LockedAt  *time.Time      `json:"locked_at,omitempty"`
	LockedBy  *string         `json:"locked_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// URLReport holds the per-page portion of a scorecard.
type URLReport struct {
	URL             string `json:"url"`
	Cited           bool   `json:"cited"`
	WordCount       int    `json:"word_count"`
	Headings        int    `json:"headings"`
	Questions       int    `json:"questions"`
	ContentScore    int    `json:"content_score"`
	VisibilityScore int    `json:"visibility_score"`
	ScreenshotKey   string `json:"screenshot_key,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Scorecard is the full result payload written when a snapshot completes.
type Scorecard struct {
	Topic       string      `json:"topic"`
	Overall     int         `json:"overall"`
	CitedURLs   int         `json:"cited_urls"`
	Answer      string      `json:"answer,omitempty"`
	Reports     []URLReport `json:"reports"`
	GeneratedAt time.Time   `json:"generated_at"`
}
