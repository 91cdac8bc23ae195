package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opActivate = "activate"
	opValidate = "validate"
	opCommit   = "commit"
	opCancel   = "cancel"
)

// Metrics counts workflow outcomes and times workflow calls.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the discount collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discount_outcomes_total",
			Help: "Discount workflow results by operation and outcome code.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "discount_operation_duration_seconds",
			Help:    "Latency of discount workflow operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.outcomes, m.duration)
	return m
}

func (m *Metrics) observe(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
