// Package alert evaluates threshold rules against incoming events and metric
// snapshots, emitting alerts for the broadcast hub. Rules are data: adding
// one never requires touching tracker logic.
package alert

import (
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/framepulse/internal/consult"
)

// Alert types emitted by the default rule table.
const (
	TypeLowFaceAnalysisAccuracy = "low_face_analysis_accuracy"
	TypeHighVoiceLatency        = "high_voice_latency"
	TypeLowStoreLocatorUsage    = "low_store_locator_usage"
	TypeLowConversionRate       = "low_conversion_rate"
	TypeHighErrorRate           = "high_error_rate"
	TypeLowSatisfaction         = "low_satisfaction"
)

// Op is a threshold comparison operator.
type Op string

// Comparison operators.
const (
	OpLessThan    Op = "lt"
	OpGreaterThan Op = "gt"
)

func (op Op) violated(value, threshold float64) bool {
	switch op {
	case OpLessThan:
		return value < threshold
	case OpGreaterThan:
		return value > threshold
	}
	return false
}

// Alert is emitted when a rule's predicate holds. Immutable after creation.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// Rule maps one event type to a metric selector and threshold. Value
// extracts the observed metric from the event payload; a false second
// return means the rule does not apply to this event.
type Rule struct {
	Name      string
	EventType consult.EventType
	Value     func(consult.Event) (float64, bool)
	Op        Op
	Threshold float64
}

// MetricsSample is a snapshot of the global rates the metric rules watch.
// Satisfaction is optional: not every deployment collects it.
type MetricsSample struct {
	ConversionRatePercent float64
	ErrorRate             float64
	AvgSatisfaction       *float64
}

// MetricRule watches one global rate from a MetricsSample.
type MetricRule struct {
	Name      string
	Value     func(MetricsSample) (float64, bool)
	Op        Op
	Threshold float64
}

// Thresholds are the alerting policy constants, overridable via config.
type Thresholds struct {
	FaceConfidenceMin    float64
	VoiceLatencyMaxMs    float64
	StoreLocatorUsageMin float64
	ConversionRateMin    float64 // percent
	ErrorRateMax         float64
	SatisfactionMin      float64
}

// DefaultThresholds is the standard alerting policy.
var DefaultThresholds = Thresholds{
	FaceConfidenceMin:    0.7,
	VoiceLatencyMaxMs:    3000,
	StoreLocatorUsageMin: 0.1,
	ConversionRateMin:    2.0,
	ErrorRateMax:         0.1,
	SatisfactionMin:      3.0,
}

// DefaultRules builds the event rule table for the given thresholds.
func DefaultRules(th Thresholds) []Rule {
	return []Rule{
		{
			Name:      TypeLowFaceAnalysisAccuracy,
			EventType: consult.EventFaceAnalysis,
			Op:        OpLessThan,
			Threshold: th.FaceConfidenceMin,
			Value: func(e consult.Event) (float64, bool) {
				p, ok := e.Payload.(consult.FaceAnalysisPayload)
				if !ok {
					return 0, false
				}
				return p.Confidence, true
			},
		},
		{
			Name:      TypeHighVoiceLatency,
			EventType: consult.EventVoiceInteraction,
			Op:        OpGreaterThan,
			Threshold: th.VoiceLatencyMaxMs,
			Value: func(e consult.Event) (float64, bool) {
				p, ok := e.Payload.(consult.VoicePayload)
				if !ok {
					return 0, false
				}
				return p.ProcessingTimeMs, true
			},
		},
		{
			Name:      TypeLowStoreLocatorUsage,
			EventType: consult.EventStoreLocator,
			Op:        OpLessThan,
			Threshold: th.StoreLocatorUsageMin,
			Value: func(e consult.Event) (float64, bool) {
				p, ok := e.Payload.(consult.StoreLocatorPayload)
				if !ok {
					return 0, false
				}
				return p.UsageRate, true
			},
		},
	}
}

// DefaultMetricRules builds the global-rate rule table.
func DefaultMetricRules(th Thresholds) []MetricRule {
	return []MetricRule{
		{
			Name:      TypeLowConversionRate,
			Op:        OpLessThan,
			Threshold: th.ConversionRateMin,
			Value: func(s MetricsSample) (float64, bool) {
				return s.ConversionRatePercent, true
			},
		},
		{
			Name:      TypeHighErrorRate,
			Op:        OpGreaterThan,
			Threshold: th.ErrorRateMax,
			Value: func(s MetricsSample) (float64, bool) {
				return s.ErrorRate, true
			},
		},
		{
			Name:      TypeLowSatisfaction,
			Op:        OpLessThan,
			Threshold: th.SatisfactionMin,
			Value: func(s MetricsSample) (float64, bool) {
				if s.AvgSatisfaction == nil {
					return 0, false
				}
				return *s.AvgSatisfaction, true
			},
		},
	}
}

// Engine evaluates the rule tables. Evaluation has no side effects beyond
// the fired-alert counter; broadcasting is the caller's responsibility.
type Engine struct {
	rules       []Rule
	metricRules []MetricRule
	metrics     *Metrics
	timeNow     func() time.Time
}

// EngineConfig configures an Engine. Nil rule slices fall back to the
// default tables with DefaultThresholds.
type EngineConfig struct {
	Rules       []Rule
	MetricRules []MetricRule
	Metrics     *Metrics
}

// NewEngine creates an alert engine.
func NewEngine(cfg EngineConfig) *Engine {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules(DefaultThresholds)
	}
	metricRules := cfg.MetricRules
	if metricRules == nil {
		metricRules = DefaultMetricRules(DefaultThresholds)
	}
	return &Engine{
		rules:       rules,
		metricRules: metricRules,
		metrics:     cfg.Metrics,
		timeNow:     time.Now,
	}
}

func (e *Engine) fire(name string, value, threshold float64, sessionID string, at time.Time) *Alert {
	if e.metrics != nil {
		e.metrics.IncAlertsFired(name)
	}
	return &Alert{
		ID:        uuid.New().String(),
		Type:      name,
		Value:     value,
		Threshold: threshold,
		SessionID: sessionID,
		At:        at,
	}
}

// Evaluate checks an event against the rule table and returns at most one
// alert. Nil means no rule was violated.
func (e *Engine) Evaluate(ev consult.Event) *Alert {
	for _, rule := range e.rules {
		if rule.EventType != ev.Type {
			continue
		}
		value, ok := rule.Value(ev)
		if !ok {
			continue
		}
		if rule.Op.violated(value, rule.Threshold) {
			return e.fire(rule.Name, value, rule.Threshold, ev.SessionID, ev.At)
		}
	}
	return nil
}

// EvaluateMetrics checks a global-rate snapshot against the metric rule
// table and returns every violated rule's alert.
func (e *Engine) EvaluateMetrics(sample MetricsSample) []Alert {
	now := e.timeNow()
	var alerts []Alert
	for _, rule := range e.metricRules {
		value, ok := rule.Value(sample)
		if !ok {
			continue
		}
		if rule.Op.violated(value, rule.Threshold) {
			alerts = append(alerts, *e.fire(rule.Name, value, rule.Threshold, "", now))
		}
	}
	return alerts
}
