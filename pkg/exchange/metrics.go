package exchange

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects exchange telemetry on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	validations *prometheus.CounterVec
	consents    *prometheus.CounterVec
	transfers   *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace ("hyperswap" if empty).
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hyperswap"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "attempts_total",
			Help:      "Settlement attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Time taken by one settlement attempt",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"kind"},
	)

	m.validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "order",
			Name:      "validations_total",
			Help:      "Order validations by outcome",
		},
		[]string{"outcome"},
	)

	m.consents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "updates_total",
			Help:      "Registry mutations (cancel, approve, nonce, admin) by outcome",
		},
		[]string{"op", "outcome"},
	)

	m.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfers_total",
			Help:      "Leg transfers executed by asset class",
		},
		[]string{"class"},
	)

	m.registry.MustRegister(m.attempts, m.latency, m.validations, m.consents, m.transfers)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordAttempt(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind, Reason(err)).Inc()
	m.latency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) recordValidation(err error) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(Reason(err)).Inc()
}

func (m *Metrics) recordUpdate(op string, err error) {
	if m == nil {
		return
	}
	m.consents.WithLabelValues(op, Reason(err)).Inc()
}

func (m *Metrics) recordTransfers(ts []Transfer) {
	if m == nil {
		return
	}
	for _, t := range ts {
		m.transfers.WithLabelValues(t.Leg.Class.String()).Inc()
	}
}
