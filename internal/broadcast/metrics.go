package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricObserversConnected = "broadcast_observers_connected"
	MetricBroadcastsTotal    = "broadcast_messages_total"
	MetricDroppedObservers   = "broadcast_dropped_observers_total"
)

// Metrics contains Prometheus metrics for the broadcast hub.
// All operations are thread-safe.
type Metrics struct {
	observersConnected prometheus.Gauge
	broadcastsTotal    *prometheus.CounterVec
	droppedObservers   prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		observersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricObserversConnected,
			Help: "Number of currently connected dashboard observers",
		}),
		broadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBroadcastsTotal,
				Help: "Total number of broadcast messages, by message type",
			},
			[]string{"type"},
		),
		droppedObservers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDroppedObservers,
			Help: "Total number of observers disconnected for queue overflow",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.observersConnected,
		m.broadcastsTotal,
		m.droppedObservers,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// SetObserversConnected records the current observer count.
func (m *Metrics) SetObserversConnected(n int) {
	m.observersConnected.Set(float64(n))
}

// IncBroadcasts increments the broadcast counter for a message type.
func (m *Metrics) IncBroadcasts(messageType string) {
	m.broadcastsTotal.WithLabelValues(messageType).Inc()
}

// IncDroppedObservers increments the overflow-disconnect counter.
func (m *Metrics) IncDroppedObservers() {
	m.droppedObservers.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.observersConnected,
		m.broadcastsTotal,
		m.droppedObservers,
	}
}
