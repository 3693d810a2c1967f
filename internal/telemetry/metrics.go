// Package telemetry provides application-level observability for the audit service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AUDIT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit recording outcomes and change-record volume
//   - Anomalies flagged by the detector
//   - Retention purge and archive volume
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics: labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Recording metrics.
//
// AuditRecordsTotal is a CounterVec with label {status} = recorded | degraded | rejected.
// A non-zero degraded rate means business operations are completing without an audit trail.
//
// Example PromQL queries:
//   - Degraded ratio:  sum(rate(audit_records_total{status="degraded"}[5m])) / sum(rate(audit_records_total[5m]))
//   - Alert:           increase(audit_records_total{status="degraded"}[10m]) > 0
//
// AuditChangeRecordsTotal counts field-level change records written alongside UPDATE entries.
var (
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Total number of audit record attempts, by outcome.",
		},
		[]string{"status"},
	)

	AuditChangeRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_change_records_total",
			Help: "Total number of field-level change records persisted.",
		},
	)

	AuditRecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_record_duration_seconds",
			Help:    "Time spent persisting one audit entry and its change records.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
	)
)

// AnomaliesDetectedTotal is a CounterVec with labels {type, severity}, incremented for
// every anomaly returned by a detection run. Repeated runs over overlapping windows
// count the same pattern more than once, so use it for trends rather than totals.
//
// Example PromQL queries:
//   - Critical anomalies per hour:  sum(increase(audit_anomalies_detected_total{severity="CRITICAL"}[1h]))
var AnomaliesDetectedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_anomalies_detected_total",
		Help: "Total number of anomalies reported by detection runs, by type and severity.",
	},
	[]string{"type", "severity"},
)

// BackgroundPanicsTotal counts panics recovered by safego, by goroutine name. Any
// increase means a background loop (purger, metrics server, HTTP server) died.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "audit_background_panics_total",
		Help: "Total number of panics recovered in background goroutines, by goroutine name.",
	},
	[]string{"goroutine"},
)

// Retention metrics: recorded by the purge job and the purge endpoint.
//
// Example PromQL queries:
//   - Entries purged per day:   increase(audit_purged_entries_total[24h])
//   - Archive volume by backend: sum by (backend) (rate(audit_archive_bytes_total[24h]))
var (
	AuditPurgedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_purged_entries_total",
			Help: "Total number of audit entries deleted by age-based purge.",
		},
	)

	AuditArchiveBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_archive_bytes_total",
			Help: "Total bytes of audit entries archived before purge, by storage backend.",
		},
		[]string{"backend"},
	)

	RetentionRunErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_retention_run_errors_total",
			Help: "Total number of retention runs that failed to archive or purge.",
		},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens when the
// application shuts down and closes the pool.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
