package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registrations records registration attempts by result
	// (created|duplicate|error).
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_registrations_total",
			Help: "Total number of registration attempts",
		},
		[]string{"result"},
	)

	// Verifications records email verification attempts by result
	// (verified|invalid|error).
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_verifications_total",
			Help: "Total number of email verification attempts",
		},
		[]string{"result"},
	)

	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// EmailDispatches counts verification email deliveries by result (sent|failed).
	EmailDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_email_dispatches_total",
			Help: "Total number of verification email dispatch attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions that are neither expired nor revoked.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "accounts_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accounts_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
