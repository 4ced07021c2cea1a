// Package metrics defines the Prometheus metrics of the session core.
//
// Metric naming follows Prometheus conventions:
//   - klb_session_ prefix for all metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TransitionsTotal counts session manager transitions by target state and trigger.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klb_session_transitions_total",
			Help: "Total session state transitions by resulting state and trigger.",
		},
		[]string{"state", "trigger"},
	)

	// ProviderRequestsTotal counts identity provider calls by operation and outcome (ok, rejected, unreachable).
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klb_session_provider_requests_total",
			Help: "Total identity provider calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// RefreshDurationSeconds is a histogram of token refresh latency.
	RefreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "klb_session_refresh_duration_seconds",
			Help:    "Duration of token refreshes in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// UnauthorizedResponsesTotal counts 401 responses seen by the HTTP binding, split by whether they invalidated the session.
	UnauthorizedResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klb_session_unauthorized_responses_total",
			Help: "Total 401 responses observed by the HTTP client binding.",
		},
		[]string{"invalidated"},
	)

	// ForbiddenResponsesTotal counts 403 responses; these never touch the session.
	ForbiddenResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "klb_session_forbidden_responses_total",
			Help: "Total 403 responses observed by the HTTP client binding.",
		},
	)

	// RegistrationsTotal counts self-service registrations by outcome step.
	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klb_session_registrations_total",
			Help: "Total registrations by the step they ended at (done on success).",
		},
		[]string{"step"},
	)

	// ActiveProfiles is the number of gateway profiles with a live session manager.
	ActiveProfiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "klb_session_active_profiles",
			Help: "Number of gateway profiles with a session manager.",
		},
	)

	// ProfilesEvictedTotal counts gateway profiles closed after sitting idle.
	ProfilesEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "klb_session_profiles_evicted_total",
			Help: "Total number of idle gateway profiles closed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsTotal,
		ProviderRequestsTotal,
		RefreshDurationSeconds,
		UnauthorizedResponsesTotal,
		ForbiddenResponsesTotal,
		RegistrationsTotal,
		ActiveProfiles,
		ProfilesEvictedTotal,
	)
}

// RecordTransition increments the transition counter.
func RecordTransition(state, trigger string) {
	TransitionsTotal.WithLabelValues(state, trigger).Inc()
}

// RecordRefresh observes how long a refresh took.
func RecordRefresh(d time.Duration) {
	RefreshDurationSeconds.Observe(d.Seconds())
}

// RecordUnauthorized increments the 401 counter.
func RecordUnauthorized(invalidated bool) {
	label := "false"
	if invalidated {
		label = "true"
	}
	UnauthorizedResponsesTotal.WithLabelValues(label).Inc()
}
