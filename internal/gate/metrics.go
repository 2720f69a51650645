package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts gate traffic. A nil *Metrics records nothing.
//
// Metrics:
//   - spendshield_gate_calls_total{kind} - calls seen, "passthrough" or "held"
//   - spendshield_gate_outcomes_total{outcome} - resolutions of held calls
//   - spendshield_gate_hold_seconds - time held calls spent waiting
type Metrics struct {
	Calls        *prometheus.CounterVec
	Outcomes     *prometheus.CounterVec
	HoldDuration prometheus.Histogram
}

// NewMetrics registers the gate metrics with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendshield_gate_calls_total",
				Help: "Network calls seen by the purchase gate",
			},
			[]string{"kind"},
		),
		Outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spendshield_gate_outcomes_total",
				Help: "Resolutions of held checkout calls",
			},
			[]string{"outcome"},
		),
		HoldDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spendshield_gate_hold_seconds",
				Help:    "Time held checkout calls waited for a decision",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
			},
		),
	}
}

func (m *Metrics) call(kind string) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(kind).Inc()
}

func (m *Metrics) outcome(o Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(o)).Inc()
	m.HoldDuration.Observe(seconds)
}
