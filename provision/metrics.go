package provision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine and poller activity. All methods are safe on a nil
// receiver so the engine can run without a registry.
type Metrics struct {
	attempts   *prometheus.CounterVec
	grants     prometheus.Counter
	pollSweeps prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capstan",
			Name:      "launch_attempts_total",
			Help:      "Launch attempts by outcome (success, capacity, rate-limit, configuration, unknown).",
		}, []string{"outcome"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capstan",
			Name:      "runner_grants_total",
			Help:      "Runners successfully provisioned.",
		}),
		pollSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capstan",
			Name:      "readiness_sweeps_total",
			Help:      "Readiness poll sweeps performed.",
		}),
	}
	reg.MustRegister(m.attempts, m.grants, m.pollSweeps)
	return m
}

func (m *Metrics) countAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) countGrant() {
	if m == nil {
		return
	}
	m.grants.Inc()
}

func (m *Metrics) countSweep() {
	if m == nil {
		return
	}
	m.pollSweeps.Inc()
}
