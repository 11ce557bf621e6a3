// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pushOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "or3sync_push_ops_total",
		Help: "Pushed operations by outcome",
	}, []string{"status"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "or3sync_conflicts_resolved_total",
		Help: "Concurrent writes settled by last-writer-wins",
	})

	pulledEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "or3sync_pulled_entries_total",
		Help: "Change log entries served to devices",
	})

	gcDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "or3sync_gc_deleted_total",
		Help: "Entries removed by garbage collection",
	}, []string{"store"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "or3sync_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"action"})

	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "or3sync_anomalies_total",
		Help: "Cursor regressions and GC invariant violations",
	}, []string{"kind"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "or3sync_request_duration_seconds",
		Help:    "Sync request latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"action"})
)

// PushOp counts one pushed operation by its final status.
func PushOp(status string) {
	pushOpsTotal.WithLabelValues(status).Inc()
}

func ConflictResolved() {
	conflictsTotal.Inc()
}

func Pulled(n int) {
	pulledEntriesTotal.Add(float64(n))
}

func GCDeleted(store string, n int) {
	gcDeletedTotal.WithLabelValues(store).Add(float64(n))
}

func RateLimited(action string) {
	rateLimitedTotal.WithLabelValues(action).Inc()
}

func Anomaly(kind string) {
	anomaliesTotal.WithLabelValues(kind).Inc()
}

// Timer starts a latency observation for action; call the result when done.
func Timer(action string) func() {
	t := prometheus.NewTimer(requestDuration.WithLabelValues(action))
	return func() { t.ObserveDuration() }
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
