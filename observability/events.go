package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type dispatchMetrics struct {
	handoffs  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	throttles *prometheus.CounterVec
}

var (
	dispatchMetricsOnce sync.Once
	dispatchRegistry    *dispatchMetrics
)

// Dispatch returns the metrics registry tracking events handed to the chain,
// transport and notification collaborators.
func Dispatch() *dispatchMetrics {
	dispatchMetricsOnce.Do(func() {
		dispatchRegistry = &dispatchMetrics{
			handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "dispatch",
				Name:      "events_total",
				Help:      "Events handed to a collaborator, by collaborator and event type.",
			}, []string{"collaborator", "type"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "dispatch",
				Name:      "failures_total",
				Help:      "Events a collaborator refused, by collaborator.",
			}, []string{"collaborator"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "channeld",
				Subsystem: "dispatch",
				Name:      "throttled_total",
				Help:      "Chain submissions delayed by the rate limiter.",
			}, []string{"collaborator"}),
		}
		prometheus.MustRegister(dispatchRegistry.handoffs, dispatchRegistry.failures, dispatchRegistry.throttles)
	})
	return dispatchRegistry
}

func normalizeCollaborator(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return "unknown"
	}
	return name
}

// RecordHandoff counts one event handed to collaborator.
func (m *dispatchMetrics) RecordHandoff(collaborator, eventType string) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(normalizeCollaborator(collaborator), eventType).Inc()
}

// RecordFailure counts one event the collaborator returned an error for.
func (m *dispatchMetrics) RecordFailure(collaborator string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(normalizeCollaborator(collaborator)).Inc()
}

// RecordThrottle counts one submission that had to wait for the limiter.
func (m *dispatchMetrics) RecordThrottle(collaborator string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeCollaborator(collaborator)).Inc()
}
