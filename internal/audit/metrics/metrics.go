// Package metrics provides Prometheus collectors for the audit trail.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts audit events as they flow through the publisher. All
// methods tolerate a nil receiver so callers can skip metrics in tests.
type Metrics struct {
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
}

// New creates and registers audit metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_audit_events_published_total",
			Help: "Audit events accepted onto the trail buffer",
		}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_audit_events_dropped_total",
			Help: "Audit events dropped because the trail buffer was full",
		}),
	}
}

func (m *Metrics) IncrementPublished() {
	if m == nil {
		return
	}
	m.EventsPublished.Inc()
}

func (m *Metrics) IncrementDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
