package export

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricExportsTotal   = "export_snapshots_total"
	MetricExportDuration = "export_duration_seconds"
)

// Metrics contains Prometheus metrics for the snapshot exporter.
// All operations are thread-safe.
type Metrics struct {
	exportsTotal   *prometheus.CounterVec
	exportDuration prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricExportsTotal,
				Help: "Total number of snapshot export cycles, by status",
			},
			[]string{"status"},
		),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricExportDuration,
			Help:    "Duration of snapshot export cycles in seconds",
			Buckets: prometheus.DefBuckets,
		}),
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

// IncExports increments the export counter for a status.
func (m *Metrics) IncExports(status string) {
	m.exportsTotal.WithLabelValues(status).Inc()
}

// ObserveExportDuration records one export cycle's duration.
func (m *Metrics) ObserveExportDuration(seconds float64) {
	m.exportDuration.Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.exportsTotal,
		m.exportDuration,
	}
}
