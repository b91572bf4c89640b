// Package metrics holds the prometheus collectors for bunquery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunquery_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// BatchesTotal counts finalized batch requests by outcome (ok or an error kind).
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_batches_total",
			Help: "Total number of finalized batch requests",
		},
		[]string{"outcome"},
	)
	// BatchesInFlight is the number of batch requests waiting for their targets.
	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bunquery_batches_in_flight",
			Help: "Batch requests currently in flight",
		},
	)
	// TargetDuration is the time from dial to merged table for one target.
	TargetDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunquery_target_duration_seconds",
			Help:    "Time to run, shape and merge one target",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	// CommandsTotal counts store commands issued, by command name.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_commands_total",
			Help: "Total number of store commands issued",
		},
		[]string{"command"},
	)
)

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
