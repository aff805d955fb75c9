package alert

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricAlertsFired is the counter name for fired alerts.
const MetricAlertsFired = "alerts_fired_total"

// Metrics contains Prometheus metrics for the alert engine.
type Metrics struct {
	alertsFired *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		alertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAlertsFired,
				Help: "Total number of alerts fired, by alert type",
			},
			[]string{"type"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.alertsFired)
}

// IncAlertsFired increments the fired counter for an alert type.
func (m *Metrics) IncAlertsFired(alertType string) {
	m.alertsFired.WithLabelValues(alertType).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.alertsFired}
}
