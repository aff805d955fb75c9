package attribution

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSalesProcessed = "attribution_sales_processed_total"
)

// Metrics contains Prometheus metrics for the attribution engine.
// All operations are thread-safe.
type Metrics struct {
	salesProcessed *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		salesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSalesProcessed,
				Help: "Total number of sales run through attribution, by outcome",
			},
			[]string{"attributed"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSalesProcessed increments the processed-sales counter for an outcome.
func (m *Metrics) IncSalesProcessed(attributed bool) {
	outcome := "false"
	if attributed {
		outcome = "true"
	}
	m.salesProcessed.WithLabelValues(outcome).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.salesProcessed,
	}
}
