package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes recorded by Metrics.
const (
	OutcomeCommitted    = "committed"
	OutcomeRolledBack   = "rolled_back"
	OutcomeCommitFailed = "commit_failed"
)

// Metrics holds the registry and transaction collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	managersCreated *prometheus.CounterVec
	managersActive  prometheus.Gauge
	clears          prometheus.Counter
	transactions    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		managersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistkit_managers_created_total",
			Help: "Persistence managers created, by environment.",
		}, []string{"environment"}),
		managersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "persistkit_managers_active",
			Help: "Persistence managers currently cached by the registry.",
		}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "persistkit_registry_clears_total",
			Help: "Registry clear operations.",
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistkit_transactions_total",
			Help: "Finished transactions, by environment and outcome.",
		}, []string{"environment", "outcome"}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.managersCreated, m.managersActive, m.clears, m.transactions}
}

func (m *Metrics) managerCreated(env string) {
	if m == nil {
		return
	}
	m.managersCreated.WithLabelValues(env).Inc()
	m.managersActive.Inc()
}

func (m *Metrics) managersClosed(n int) {
	if m == nil {
		return
	}
	m.managersActive.Sub(float64(n))
	m.clears.Inc()
}

func (m *Metrics) transaction(env, outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(env, outcome).Inc()
}
