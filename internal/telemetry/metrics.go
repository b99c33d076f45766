package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SnapshotsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "split_snapshots_submitted_total", Help: "Snapshot requests accepted"})
	SnapshotsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "split_snapshots_completed_total", Help: "Snapshot requests completed"})
	SnapshotsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "split_snapshots_failed_total", Help: "Snapshot requests that failed"})
	SnapshotsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "split_snapshots_reclaimed_total", Help: "Stale processing rows reset to pending"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "split_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "split_snapshots_inflight", Help: "Snapshots currently being processed"})

	CrawlerVisits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "split_crawler_visits_total",
		Help: "Tracked AI crawler visits by vendor",
	}, []string{"vendor"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SnapshotsSubmitted,
			SnapshotsCompleted,
			SnapshotsFailed,
			SnapshotsReclaimed,
			RateLimitRejects,
			InFlightGauge,
			CrawlerVisits,
		)
	})
	return promhttp.Handler()
}
