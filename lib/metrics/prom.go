// Package metrics exposes prometheus collectors for the provider bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request paths.
const (
	PathFast = "fast" // answered from local state
	PathHost = "host" // forwarded to the host
)

// Completion outcomes.
const (
	Resolved    = "resolved"
	Rejected    = "rejected"
	Unknown     = "unknown"
	Unavailable = "unavailable"
	Timeout     = "timeout"
	BadResult   = "bad_result"
	Closed      = "closed"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dappbridge_requests_total",
			Help: "Provider requests by method and path",
		},
		[]string{"method", "path"},
	)

	completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dappbridge_completions_total",
			Help: "Host request completions by outcome",
		},
		[]string{"outcome"},
	)

	pending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dappbridge_pending_requests",
			Help: "Requests forwarded to the host and not completed yet",
		},
	)

	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dappbridge_events_total",
			Help: "Events published to subscribers",
		},
		[]string{"event"},
	)

	listenerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dappbridge_listener_panics_total",
			Help: "Event listeners that panicked during dispatch",
		},
		[]string{"event"},
	)
)

// Register registers all collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(requests, completions, pending, events, listenerPanics)
}

// RecordRequest counts a provider request.
func RecordRequest(method, path string) {
	requests.WithLabelValues(method, path).Inc()
}

// RecordCompletion counts a completion outcome.
func RecordCompletion(outcome string) {
	completions.WithLabelValues(outcome).Inc()
}

// SetPending sets the size of the pending request table.
func SetPending(n int) {
	pending.Set(float64(n))
}

// RecordEvent counts a published event.
func RecordEvent(event string) {
	events.WithLabelValues(event).Inc()
}

// RecordListenerPanic counts a listener failure.
func RecordListenerPanic(event string) {
	listenerPanics.WithLabelValues(event).Inc()
}
