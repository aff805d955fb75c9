// Package analytics composes the pipeline's live state into comprehensive
// reports for the dashboard, and exposes the global rate sample the alert
// engine evaluates. It only reads; all state is owned elsewhere.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/framepulse/internal/aggregate"
	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/attribution"
	"github.com/onnwee/framepulse/internal/consult"
	"github.com/onnwee/framepulse/internal/quality"
)

// Engagement aggregate keys.
const (
	keyQuality      = "quality"
	keySatisfaction = "satisfaction"
)

// HealthChecker is a dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TimeRange bounds a report. Zero values mean unbounded.
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// EngagementSummary is the global engagement view derived from scored
// sessions.
type EngagementSummary struct {
	ScoredSessions  int64    `json:"scored_sessions"`
	AvgQualityScore *float64 `json:"avg_quality_score,omitempty"`
	AvgSatisfaction *float64 `json:"avg_satisfaction,omitempty"`
}

// ComprehensiveReport is the full dashboard view: session counts, global
// rates, and per-dimension aggregate highlights.
type ComprehensiveReport struct {
	GeneratedAt           time.Time                  `json:"generated_at"`
	Range                 TimeRange                  `json:"range,omitempty"`
	Sessions              consult.Stats              `json:"sessions"`
	ConversionRatePercent float64                    `json:"conversion_rate_percent"`
	StoreLocatorUsageRate float64                    `json:"store_locator_usage_rate"`
	ErrorRate             *float64                   `json:"error_rate,omitempty"`
	Engagement            EngagementSummary          `json:"engagement"`
	FaceShapes            []aggregate.Snapshot       `json:"face_shapes"`
	Frames                []aggregate.Snapshot       `json:"frames"`
	Voice                 []aggregate.Snapshot       `json:"voice"`
	Locations             []aggregate.Snapshot       `json:"locations"`
	Attribution           *attribution.SummaryReport `json:"attribution,omitempty"`
}

// HealthStatus reports overall service health plus per-dependency detail.
type HealthStatus struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Service composes reports over the registry, the aggregates, and the
// attribution engine.
type Service struct {
	registry   *consult.Registry
	aggregates consult.Aggregates
	engagement *aggregate.Store
	attrib     *attribution.Engine
	deps       map[string]HealthChecker
	timeNow    func() time.Time
}

// ServiceConfig configures a Service. Registry and Aggregates are required;
// Attribution and Dependencies are optional.
type ServiceConfig struct {
	Registry     *consult.Registry
	Aggregates   consult.Aggregates
	Attribution  *attribution.Engine
	Dependencies map[string]HealthChecker
}

// NewService creates an analytics service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		registry:   cfg.Registry,
		aggregates: cfg.Aggregates,
		engagement: aggregate.NewStore(),
		attrib:     cfg.Attribution,
		deps:       cfg.Dependencies,
		timeNow:    time.Now,
	}
}

// ObserveEngagement folds one scored session into the global engagement
// means.
func (s *Service) ObserveEngagement(m quality.EngagementMetrics) {
	s.engagement.Update(keyQuality, aggregate.Sample{Score: &m.QualityScore})
	if m.Satisfaction != nil {
		s.engagement.Update(keySatisfaction, aggregate.Sample{Score: m.Satisfaction})
	}
}

// Comprehensive builds the full report. The attribution summary is included
// when an attribution engine is configured; its failures are tagged inside
// the summary, never propagated.
func (s *Service) Comprehensive(ctx context.Context, tr TimeRange) (ComprehensiveReport, error) {
	stats := s.registry.Stats()

	report := ComprehensiveReport{
		GeneratedAt:           s.timeNow(),
		Range:                 tr,
		Sessions:              stats,
		ConversionRatePercent: stats.ConversionRatePercent(),
		StoreLocatorUsageRate: stats.StoreLocatorUsageRate(),
		ErrorRate:             s.globalErrorRate(),
		Engagement:            s.engagementSummary(),
		FaceShapes:            s.aggregates.FaceShapes.SnapshotAll(),
		Frames:                s.aggregates.Frames.SnapshotAll(),
		Voice:                 s.aggregates.Voice.SnapshotAll(),
		Locations:             s.aggregates.Locations.SnapshotAll(),
	}

	if s.attrib != nil {
		summary := s.attrib.GenerateReport(ctx, attribution.Filter{
			SessionIDs: s.registry.Keys(),
			From:       tr.From,
			To:         tr.To,
		}, 0)
		report.Attribution = &summary
		if summary.Error {
			slog.WarnContext(ctx, "attribution summary degraded", "message", summary.Message)
		}
	}
	return report, nil
}

// Snapshot implements the broadcast hub's snapshot source: the initial
// state a new observer receives is the comprehensive report.
func (s *Service) Snapshot(ctx context.Context) (any, error) {
	report, err := s.Comprehensive(ctx, TimeRange{})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// MetricsSample builds the global-rate sample the alert engine evaluates.
// The second return value is false while no session has been tracked, so
// callers do not evaluate rate rules against an empty pipeline.
func (s *Service) MetricsSample() (alert.MetricsSample, bool) {
	stats := s.registry.Stats()
	if stats.ActiveSessions == 0 {
		return alert.MetricsSample{}, false
	}

	sample := alert.MetricsSample{
		ConversionRatePercent: stats.ConversionRatePercent(),
		AvgSatisfaction:       s.engagementSummary().AvgSatisfaction,
	}
	if rate := s.globalErrorRate(); rate != nil {
		sample.ErrorRate = *rate
	}
	return sample, true
}

// HealthCheck probes each registered dependency. Status is "degraded" as
// soon as any dependency fails.
func (s *Service) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       "ok",
		Dependencies: make(map[string]string, len(s.deps)),
	}
	for name, dep := range s.deps {
		if err := dep.HealthCheck(ctx); err != nil {
			status.Status = "degraded"
			status.Dependencies[name] = err.Error()
			continue
		}
		status.Dependencies[name] = "ok"
	}
	return status
}

// globalErrorRate is the failure rate over all voice interactions, weighted
// by per-key sample counts. Nil when no voice interaction has been seen.
func (s *Service) globalErrorRate() *float64 {
	var total, weighted float64
	for _, snap := range s.aggregates.Voice.SnapshotAll() {
		if snap.SuccessRate == nil || snap.Count == 0 {
			continue
		}
		total += float64(snap.Count)
		weighted += float64(snap.Count) * (1 - *snap.SuccessRate)
	}
	if total == 0 {
		return nil
	}
	rate := weighted / total
	return &rate
}

func (s *Service) engagementSummary() EngagementSummary {
	summary := EngagementSummary{}
	if snap, ok := s.engagement.Get(keyQuality); ok {
		summary.ScoredSessions = snap.Count
		summary.AvgQualityScore = snap.MeanScore
	}
	if snap, ok := s.engagement.Get(keySatisfaction); ok {
		summary.AvgSatisfaction = snap.MeanScore
	}
	return summary
}
