package consult

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsTracked        = "consult_events_tracked_total"
	MetricValidationFailures   = "consult_validation_failures_total"
	MetricUnknownSessionEvents = "consult_unknown_session_events_total"
)

// Metrics contains Prometheus metrics for the event trackers.
// All operations are thread-safe.
type Metrics struct {
	eventsTracked        *prometheus.CounterVec
	validationFailures   prometheus.Counter
	unknownSessionEvents prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsTracked,
				Help: "Total number of behavioral events tracked, by event type",
			},
			[]string{"type"},
		),
		validationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricValidationFailures,
			Help: "Total number of tracker calls rejected by input validation",
		}),
		unknownSessionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUnknownSessionEvents,
			Help: "Total number of events dropped because their session was never started",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsTracked,
		m.validationFailures,
		m.unknownSessionEvents,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEventsTracked increments the tracked-events counter for an event type.
func (m *Metrics) IncEventsTracked(eventType string) {
	m.eventsTracked.WithLabelValues(eventType).Inc()
}

// IncValidationFailures increments the validation failure counter.
func (m *Metrics) IncValidationFailures() {
	m.validationFailures.Inc()
}

// IncUnknownSessionEvents increments the unknown-session counter.
func (m *Metrics) IncUnknownSessionEvents() {
	m.unknownSessionEvents.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsTracked,
		m.validationFailures,
		m.unknownSessionEvents,
	}
}
