// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by pipeline (generate/export) and
	// terminal state.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animation_runs_total",
			Help: "Total number of finished runs.",
		},
		[]string{"pipeline", "outcome"},
	)

	// ActiveRuns tracks runs that have not reached a terminal state.
	ActiveRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animation_active_runs",
			Help: "Number of runs currently in flight.",
		},
		[]string{"pipeline"},
	)

	// StageDuration observes how long each pipeline stage took.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animation_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 14),
		},
		[]string{"stage", "outcome"},
	)

	// SubprocessDuration observes manim and ffmpeg invocations by role.
	SubprocessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animation_subprocess_duration_seconds",
			Help:    "Duration of tracked subprocesses.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 14),
		},
		[]string{"role", "outcome"},
	)

	// FixAttemptsTotal counts auto-fix producer calls by stage (syntax/runtime).
	FixAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animation_fix_attempts_total",
			Help: "Total number of auto-fix attempts.",
		},
		[]string{"stage"},
	)

	// RuntimeErrorsTotal counts classified preview failures.
	RuntimeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animation_runtime_errors_total",
			Help: "Total number of classified preview failures.",
		},
		[]string{"category"},
	)

	// ProducerCacheTotal counts generation cache lookups by result (hit/miss).
	ProducerCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animation_producer_cache_total",
			Help: "Generation cache lookups.",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts handled HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// RateLimitedTotal counts rejected requests by reason (limit/blacklist).
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
		[]string{"reason"},
	)
)
