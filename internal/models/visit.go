package models

import "time"

// CrawlerVisit is a logged hit from a detected AI crawler against a tracked
// site. Immutable once written; always owned by exactly one workspace.
type CrawlerVisit struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Domain      string    `json:"domain"`
	Path        string    `json:"path"`
	Crawler     string    `json:"crawler"`
	Vendor      string    `json:"vendor"`
	Purpose     string    `json:"purpose"`
	UserAgent   string    `json:"user_agent"`
	VisitedAt   time.Time `json:"visited_at"`
}

// VisitCount aggregates visits per crawler for reporting.
type VisitCount struct {
	Crawler string `json:"crawler"`
	Vendor  string `json:"vendor"`
	Count   int64  `json:"count"`
}

// UsageCounter tracks billable snapshot runs per workspace and period.
type UsageCounter struct {
	WorkspaceID string `json:"workspace_id"`
	Period      string `json:"period"` // YYYY-MM
	Snapshots   int    `json:"snapshots"`
}
