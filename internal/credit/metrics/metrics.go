// Package metrics provides Prometheus collectors for the credit coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds credit lifecycle collectors. All methods tolerate a nil
// receiver so callers can skip metrics in tests.
type Metrics struct {
	BatchesMinted      prometheus.Counter
	CreditsMinted      prometheus.Counter
	IssuanceFailures   *prometheus.CounterVec
	CreditsTransferred prometheus.Counter
	CreditsRetired     prometheus.Counter
	MintDuration       prometheus.Histogram
}

// New creates and registers credit metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		BatchesMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_credit_batches_minted_total",
			Help: "Number of credit batches minted on the ledger",
		}),
		CreditsMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_credits_minted_total",
			Help: "Total credits minted across all batches",
		}),
		IssuanceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verdant_credit_issuance_failures_total",
			Help: "Issuance attempts that did not complete, by failure kind",
		}, []string{"kind"}),
		CreditsTransferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_credits_transferred_total",
			Help: "Total credits moved between holders",
		}),
		CreditsRetired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verdant_credits_retired_total",
			Help: "Total credits permanently retired",
		}),
		MintDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "verdant_credit_mint_duration_seconds",
			Help:    "End-to-end mint latency including ledger retries",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncrementBatchesMinted(amount int64) {
	if m == nil {
		return
	}
	m.BatchesMinted.Inc()
	m.CreditsMinted.Add(float64(amount))
}

func (m *Metrics) IncrementIssuanceFailures(kind string) {
	if m == nil {
		return
	}
	m.IssuanceFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementTransferred(amount int64) {
	if m == nil {
		return
	}
	m.CreditsTransferred.Add(float64(amount))
}

func (m *Metrics) IncrementRetired(amount int64) {
	if m == nil {
		return
	}
	m.CreditsRetired.Add(float64(amount))
}

func (m *Metrics) ObserveMintDuration(seconds float64) {
	if m == nil {
		return
	}
	m.MintDuration.Observe(seconds)
}
