// Package telemetry provides structured logging setup and Prometheus metrics.
//
// All metrics register against the default Prometheus registry and are served
// on the side-channel /metrics endpoint started by the server entry point.
//
// Embedding and index-sync retry counters are operationally load-bearing, not
// decorative: they are the only visibility into best-effort side effects that
// never surface as request errors. Compensation counters distinguish rollbacks
// that restored consistency from ones that left the stores diverged and need
// manual reconciliation.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code. The path
// label holds the Gin route template (e.g. /solutions/:id), never the raw URL,
// to keep label cardinality bounded.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests by method, route template and status code",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route template",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Embedding pipeline counters. The event label carries one of:
// success, failed, retry, fallback.
var EmbeddingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embedding_events_total",
	Help: "Embedding pipeline outcomes (success, failed, retry, fallback)",
}, []string{"event"})

// Index sync counters. The event label carries one of: success, failed, retry.
var IndexSyncEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "index_sync_events_total",
	Help: "Search index sync outcomes (success, failed, retry)",
}, []string{"event"})

// Compensation counters for dual-store rollbacks, labelled by the operation
// that failed (create, delete, visibility, revoke) and the rollback outcome
// (restored, failed).
var CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dual_store_compensations_total",
	Help: "Compensating actions taken after partial dual-store failures",
}, []string{"operation", "outcome"})

// QuotaRejectionsTotal counts writes refused by per-credential ceilings.
var QuotaRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quota_rejections_total",
	Help: "Writes rejected by per-credential daily or monthly quotas",
}, []string{"window"})

// DBConnectionsInUse tracks the ledger connection pool.
var DBConnectionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "db_connections_in_use",
	Help: "Open connections currently in use by the ledger pool",
})

// StartDBPoolGauge polls pool stats until stop is closed.
func StartDBPoolGauge(db *sqlx.DB, interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				DBConnectionsInUse.Set(float64(db.Stats().InUse))
			case <-stop:
				return
			}
		}
	}()
}

// LogCompensation records a compensation outcome in both the metric and the
// structured log so operators can correlate request errors with reconciliation
// work.
func LogCompensation(operation, solutionID string, restored bool, cause error) {
	outcome := "restored"
	if !restored {
		outcome = "failed"
	}
	CompensationsTotal.WithLabelValues(operation, outcome).Inc()
	if restored {
		slog.Warn("dual-store compensation applied",
			"operation", operation, "solution_id", solutionID, "cause", cause)
		return
	}
	slog.Error("dual-store compensation failed, manual reconciliation required",
		"operation", operation, "solution_id", solutionID, "cause", cause)
}
