package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts inbound ECS queue events by server and outcome
	// (applied|skipped|vanished).
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecsbridge_events_processed_total",
			Help: "Total number of inbound ECS events processed",
		},
		[]string{"server", "outcome"},
	)

	// SyncRuns counts full per-server sync passes by result (success|failure).
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecsbridge_sync_runs_total",
			Help: "Total number of per-server sync passes",
		},
		[]string{"server", "result"},
	)

	// ExportsPublished counts outbound resource operations (add|update|delete).
	ExportsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecsbridge_exports_published_total",
			Help: "Total number of course resources pushed to ECS",
		},
		[]string{"server", "operation"},
	)

	// LastPollTimestamp tracks the unix time of the last successful poll per server.
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ecsbridge_last_poll_timestamp_seconds",
			Help: "Unix timestamp of the last successful ECS poll",
		},
		[]string{"server"},
	)

	// APILatency measures HTTP request latencies of the admin API.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecsbridge_api_latency_seconds",
			Help:    "Admin API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
