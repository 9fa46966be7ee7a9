package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsSubmitted counts new verification requests entering the system.
	RequestsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consentd_requests_submitted_total",
			Help: "Total number of verification requests submitted",
		},
	)

	// Transitions counts lifecycle transitions by outcome
	// (approved|denied|revoked|expired) and result (success|conflict|error).
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentd_transitions_total",
			Help: "Total number of attempted consent lifecycle transitions",
		},
		[]string{"outcome", "result"},
	)

	// ReaperSweeps counts reaper sweep executions by result (success|partial).
	ReaperSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentd_reaper_sweeps_total",
			Help: "Total number of expiry reaper sweeps",
		},
		[]string{"result"},
	)

	// ReaperExpired counts grants the reaper demoted to denied.
	ReaperExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consentd_reaper_expired_total",
			Help: "Total number of grants expired by the reaper",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consentd_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
