package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the workflow's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Mints       prometheus.Counter
	Deliveries  prometheus.Counter
	Rejected    *prometheus.CounterVec
	PassRetries prometheus.Counter
	Incomplete  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Mints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candy_mints_total",
			Help: "Mints confirmed in the ledger, including ones recovered by lookup.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candy_deliveries_total",
			Help: "Deliveries confirmed in the ledger.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candy_rejected_total",
			Help: "Collaborator calls rejected by the chain, by step.",
		}, []string{"step"}),
		PassRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candy_pass_retries_total",
			Help: "Passes that ended early or incomplete and were retried.",
		}),
		Incomplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candy_incomplete_records",
			Help: "Ledger rows missing a mint or delivery proof after the last pass.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Mints, m.Deliveries, m.Rejected, m.PassRetries, m.Incomplete)
	}
	return m
}

func (m *Metrics) minted() {
	if m != nil {
		m.Mints.Inc()
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.Deliveries.Inc()
	}
}

func (m *Metrics) rejected(step string) {
	if m != nil {
		m.Rejected.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.PassRetries.Inc()
	}
}

func (m *Metrics) setIncomplete(n int) {
	if m != nil {
		m.Incomplete.Set(float64(n))
	}
}
