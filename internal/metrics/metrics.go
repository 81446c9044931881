package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method, and route
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coopquest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "path"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coopquest_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "path"},
	)

	// RateLimiterRejections counts scans rejected by the per-team scan limiter
	RateLimiterRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coopquest_scan_rate_limited_total",
			Help: "Total number of scans rejected by the rate limiter",
		},
	)

	// EncountersStarted counts encounters created by a successful scan
	EncountersStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coopquest_encounters_started_total",
			Help: "Total number of encounters started",
		},
	)

	// EncountersRejected counts scans refused by a precondition, by error code
	EncountersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coopquest_encounters_rejected_total",
			Help: "Total number of scans rejected, by reason",
		},
		[]string{"reason"},
	)

	// EncountersFinished counts terminal transitions by status (completed, failed, expired)
	EncountersFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coopquest_encounters_finished_total",
			Help: "Total number of encounters that reached a terminal status",
		},
		[]string{"status"},
	)

	// EncounterPointsAwarded sums points credited per team through encounters
	EncounterPointsAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coopquest_encounter_points_awarded_total",
			Help: "Total points credited to teams by encounters",
		},
	)

	// SweepDuration measures one expiry sweep
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coopquest_sweep_duration_seconds",
			Help:    "Expiry sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SweepFailures counts sweeps that failed as a whole
	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coopquest_sweep_failures_total",
			Help: "Total number of failed expiry sweeps",
		},
	)

	// RealtimeConnections tracks open WebSocket connections on this instance
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coopquest_realtime_connections",
			Help: "Number of open WebSocket connections",
		},
	)
)

// ObserveSweep records the duration of a sweep started at startTime.
func ObserveSweep(startTime time.Time) {
	SweepDuration.Observe(time.Since(startTime).Seconds())
}
