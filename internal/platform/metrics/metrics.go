package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics for the application.
// Per-module metrics (certification, credits) live in their own packages.
type Metrics struct {
	RequestDuration  *prometheus.HistogramVec
	ActorsRegistered prometheus.Counter
}

// New creates and registers all platform metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verdant_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),

		ActorsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_actors_registered_total",
			Help: "Total number of actors registered in the system",
		}),
	}
}

// ObserveRequest records the duration of one HTTP request.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
	}
}

// IncrementActorsRegistered increments the actor registration counter by 1.
func (m *Metrics) IncrementActorsRegistered() {
	if m != nil {
		m.ActorsRegistered.Inc()
	}
}
