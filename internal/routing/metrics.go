package routing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Decisions           *prometheus.CounterVec
	Escalations         prometheus.Counter
	Failures            *prometheus.CounterVec
	ClassifierFallbacks *prometheus.CounterVec
	DecisionDuration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "desk_routing",
			Name:      "decisions_total",
			Help:      "Tickets created, by routing path",
		}, []string{"path"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "desk_routing",
			Name:      "escalations_total",
			Help:      "Tickets reopened after a dissatisfaction reply",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "desk_routing",
			Name:      "inbound_failures_total",
			Help:      "Inbound messages that did not produce a routing outcome, by error code",
		}, []string{"code"}),
		ClassifierFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "desk_routing",
			Name:      "classifier_fallbacks_total",
			Help:      "Classifications served by the local heuristic, by reason",
		}, []string{"reason"}),
		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "desk_routing",
			Name:      "decision_duration_seconds",
			Help:      "Time spent processing one inbound message",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Decisions, m.Escalations, m.Failures, m.ClassifierFallbacks, m.DecisionDuration)
	}
	return m
}

func (m *Metrics) decision(path string) {
	if m != nil {
		m.Decisions.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) escalation() {
	if m != nil {
		m.Escalations.Inc()
	}
}

func (m *Metrics) failure(code string) {
	if m != nil {
		m.Failures.WithLabelValues(code).Inc()
	}
}

// ClassifierFallback counts one heuristic fallback.
func (m *Metrics) ClassifierFallback(reason string) {
	if m != nil {
		m.ClassifierFallbacks.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) observe(outcome string, start time.Time) {
	if m != nil {
		m.DecisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}
