// Package metrics provides Prometheus metrics for call sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks sessions that have left Idle and not yet reached Closed.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportcall_active_sessions",
			Help: "Number of call sessions that are not closed",
		},
	)

	SessionStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportcall_session_state_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportcall_sessions_closed_total",
			Help: "Closed sessions by terminal reason",
		},
		[]string{"reason"},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportcall_reconnect_attempts_total",
			Help: "Reconnect attempts by the failure that triggered them",
		},
		[]string{"cause"},
	)

	// DeviceHandles is incremented on acquire and decremented on release.
	DeviceHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supportcall_device_handles",
			Help: "Audio device handles currently held",
		},
		[]string{"device"},
	)

	CredentialDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportcall_credential_duration_seconds",
			Help:    "Duration of credential acquisition",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		},
	)

	// CredentialsDiscarded counts zeroed credentials. when is closed for a
	// session's own credential and late for one that arrived after its
	// session stopped waiting.
	CredentialsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportcall_credentials_discarded_total",
			Help: "Credentials zeroed by the coordinator",
		},
		[]string{"when"},
	)

	StaleCallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supportcall_stale_callbacks_total",
			Help: "Transport callbacks dropped because their session or attempt was gone",
		},
	)
)

func RecordStateTransition(fromState, toState string) {
	SessionStateTransitions.WithLabelValues(fromState, toState).Inc()
}

func RecordSessionStarted() {
	ActiveSessions.Inc()
}

func RecordSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
	ActiveSessions.Dec()
}

func RecordReconnect(cause string) {
	ReconnectAttempts.WithLabelValues(cause).Inc()
}

func DeviceAcquired(device string) { DeviceHandles.WithLabelValues(device).Inc() }
func DeviceReleased(device string) { DeviceHandles.WithLabelValues(device).Dec() }
