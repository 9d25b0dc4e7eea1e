package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certification engine.
type Metrics struct {
	Submitted prometheus.Counter
	Decisions *prometheus.CounterVec
	Scores    prometheus.Histogram
}

// New creates a new Metrics instance with all certification metrics registered.
func New() *Metrics {
	return &Metrics{
		Submitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_certificates_submitted_total",
			Help: "Total production claims submitted",
		}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verdant_review_decisions_total",
			Help: "Review decisions by outcome",
		}, []string{"decision"}),

		Scores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "verdant_compliance_scores",
			Help:    "Distribution of checklist compliance scores",
			Buckets: []float64{0, 20, 40, 60, 70, 80, 90, 100},
		}),
	}
}

// IncrementSubmitted records one claim submission.
func (m *Metrics) IncrementSubmitted() {
	if m != nil {
		m.Submitted.Inc()
	}
}

// RecordDecision records a concluded review.
func (m *Metrics) RecordDecision(decision string, score int) {
	if m != nil {
		m.Decisions.WithLabelValues(decision).Inc()
		m.Scores.Observe(float64(score))
	}
}
