package consult

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/framepulse/internal/aggregate"
)

// ErrValidation is the sentinel for tracker input validation failures.
// Validation always runs before any state mutation.
var ErrValidation = errors.New("validation failed")

// Store-locator actions and the counter each one increments.
var locatorCounters = map[string]string{
	"search":       "searches",
	"view_details": "viewDetails",
	"directions":   "directions",
	"reservation":  "reservations",
}

// Recommendation counter names shared with the conversion tracker.
const (
	counterRecommended = "recommended"
	counterSelected    = "selected"
)

// SaleAttributor receives revenue-bearing conversions for attribution.
// Calls are best-effort: a failure is logged by the tracker, never
// propagated to the event producer.
type SaleAttributor interface {
	AttributeConversion(ctx context.Context, sessionID string, value float64, frameID string) error
}

// Aggregates bundles the per-domain metric stores the trackers feed.
type Aggregates struct {
	FaceShapes *aggregate.Store
	Frames     *aggregate.Store
	Voice      *aggregate.Store
	Locations  *aggregate.Store
}

// NewAggregates creates a fresh set of empty domain aggregate stores.
func NewAggregates() Aggregates {
	return Aggregates{
		FaceShapes: aggregate.NewStore(),
		Frames:     aggregate.NewStore(),
		Voice:      aggregate.NewStore(),
		Locations:  aggregate.NewStore(),
	}
}

// Tracker validates behavioral events, maintains per-session consultation
// records, updates the domain aggregates, and emits normalized events for
// the alert engine and broadcast hub.
type Tracker struct {
	registry   *Registry
	aggregates Aggregates
	attributor SaleAttributor
	metrics    *Metrics
	timeNow    func() time.Time
}

// TrackerConfig configures a Tracker. Attributor and Metrics are optional.
type TrackerConfig struct {
	Registry   *Registry
	Aggregates Aggregates
	Attributor SaleAttributor
	Metrics    *Metrics
}

// NewTracker creates a Tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		registry:   cfg.Registry,
		aggregates: cfg.Aggregates,
		attributor: cfg.Attributor,
		metrics:    cfg.Metrics,
		timeNow:    time.Now,
	}
}

// Registry exposes the consultation record registry for analytics reads and
// the external reaper.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Aggregates exposes the domain aggregate stores for analytics reads.
func (t *Tracker) Aggregates() Aggregates {
	return t.aggregates
}

func (t *Tracker) validationErr(format string, args ...any) error {
	if t.metrics != nil {
		t.metrics.IncValidationFailures()
	}
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// locate returns whether a record exists for sessionID, handling the
// unknown-session policy: log a warning, count it, and report
// ErrUnknownSession without creating a ghost record.
func (t *Tracker) locate(sessionID string, eventType EventType) error {
	if _, ok := t.registry.Get(sessionID); !ok {
		if t.metrics != nil {
			t.metrics.IncUnknownSessionEvents()
		}
		slog.Warn("event for unknown session dropped",
			"session_id", sessionID,
			"event_type", string(eventType),
		)
		return ErrUnknownSession
	}
	return nil
}

func (t *Tracker) emitted(e Event) Event {
	if t.metrics != nil {
		t.metrics.IncEventsTracked(string(e.Type))
	}
	return e
}

// StartInput carries the fields of a consultation start.
type StartInput struct {
	Platform string
}

// TrackConsultationStart creates the consultation record for a session and
// emits the start event. Starting is the only operation allowed to create
// a record.
func (t *Tracker) TrackConsultationStart(sessionID string, in StartInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.Platform == "" {
		return Event{}, t.validationErr("platform is required")
	}

	now := t.timeNow()
	if err := t.registry.Create(sessionID, in.Platform, now); err != nil {
		return Event{}, err
	}

	return t.emitted(newEvent(sessionID, now, StartPayload{Platform: in.Platform})), nil
}

// StageInput carries a stage-transition target.
type StageInput struct {
	Stage string
}

// TrackStageTransition appends a stage to the session's history and makes it
// the current stage.
func (t *Tracker) TrackStageTransition(sessionID string, in StageInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.Stage == "" {
		return Event{}, t.validationErr("stage is required")
	}
	if err := t.locate(sessionID, EventStageTransition); err != nil {
		return Event{}, err
	}

	now := t.timeNow()
	var from string
	err := t.registry.Mutate(sessionID, func(r *Record) {
		from = r.CurrentStage
		r.Stages = append(r.Stages, StageEntry{Stage: in.Stage, At: now})
		r.CurrentStage = in.Stage
	})
	if err != nil {
		return Event{}, err
	}

	return t.emitted(newEvent(sessionID, now, StagePayload{From: from, To: in.Stage})), nil
}

// FaceAnalysisInput carries the result of a face shape detection.
type FaceAnalysisInput struct {
	FaceShape        string
	Confidence       float64
	ProcessingTimeMs float64
}

// TrackFaceAnalysis marks the session's face analysis complete and updates
// the face-shape aggregate.
func (t *Tracker) TrackFaceAnalysis(sessionID string, in FaceAnalysisInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.FaceShape == "" {
		return Event{}, t.validationErr("face shape is required")
	}
	if err := t.locate(sessionID, EventFaceAnalysis); err != nil {
		return Event{}, err
	}

	now := t.timeNow()
	err := t.registry.Mutate(sessionID, func(r *Record) {
		r.FaceAnalysisCompleted = true
	})
	if err != nil {
		return Event{}, err
	}

	t.aggregates.FaceShapes.Update(in.FaceShape, aggregate.Sample{
		Confidence:       &in.Confidence,
		ProcessingTimeMs: &in.ProcessingTimeMs,
	})

	return t.emitted(newEvent(sessionID, now, FaceAnalysisPayload{
		FaceShape:        in.FaceShape,
		Confidence:       in.Confidence,
		ProcessingTimeMs: in.ProcessingTimeMs,
	})), nil
}

// RecommendationInput carries one generated frame recommendation.
type RecommendationInput struct {
	FrameID    string
	Confidence float64
}

// TrackRecommendation counts a recommendation against the session and the
// frame aggregate.
func (t *Tracker) TrackRecommendation(sessionID string, in RecommendationInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.FrameID == "" {
		return Event{}, t.validationErr("frame id is required")
	}
	if err := t.locate(sessionID, EventRecommendation); err != nil {
		return Event{}, err
	}

	now := t.timeNow()
	err := t.registry.Mutate(sessionID, func(r *Record) {
		r.RecommendationsGenerated++
	})
	if err != nil {
		return Event{}, err
	}

	t.aggregates.Frames.Update(in.FrameID, aggregate.Sample{Confidence: &in.Confidence})
	t.aggregates.Frames.AddCounter(in.FrameID, counterRecommended, 1)

	return t.emitted(newEvent(sessionID, now, RecommendationPayload{
		FrameID:    in.FrameID,
		Confidence: in.Confidence,
	})), nil
}

// VoiceInput carries one voice interaction outcome.
type VoiceInput struct {
	Kind             string
	Language         string
	ProcessingTimeMs float64
	Success          bool
}

// TrackVoiceInteraction counts a voice interaction and updates the voice
// aggregate keyed by kind and language.
func (t *Tracker) TrackVoiceInteraction(sessionID string, in VoiceInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.Kind == "" {
		return Event{}, t.validationErr("voice interaction kind is required")
	}
	if err := t.locate(sessionID, EventVoiceInteraction); err != nil {
		return Event{}, err
	}

	lang := in.Language
	if lang == "" {
		lang = "unknown"
	}

	now := t.timeNow()
	err := t.registry.Mutate(sessionID, func(r *Record) {
		r.VoiceInteractions++
	})
	if err != nil {
		return Event{}, err
	}

	t.aggregates.Voice.Update(in.Kind+"_"+lang, aggregate.Sample{
		ProcessingTimeMs: &in.ProcessingTimeMs,
		Success:          &in.Success,
	})

	return t.emitted(newEvent(sessionID, now, VoicePayload{
		Kind:             in.Kind,
		Language:         lang,
		ProcessingTimeMs: in.ProcessingTimeMs,
		Success:          in.Success,
	})), nil
}

// StoreLocatorInput carries one store-locator action.
type StoreLocatorInput struct {
	Location string
	Action   string
}

// TrackStoreLocator marks the session as a locator user and increments the
// location's action counter.
func (t *Tracker) TrackStoreLocator(sessionID string, in StoreLocatorInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.Location == "" {
		return Event{}, t.validationErr("location is required")
	}
	counter, ok := locatorCounters[in.Action]
	if !ok {
		return Event{}, t.validationErr("unknown store locator action %q", in.Action)
	}
	if err := t.locate(sessionID, EventStoreLocator); err != nil {
		return Event{}, err
	}

	now := t.timeNow()
	err := t.registry.Mutate(sessionID, func(r *Record) {
		r.StoreLocatorUsed = true
	})
	if err != nil {
		return Event{}, err
	}

	t.aggregates.Locations.AddCounter(in.Location, counter, 1)

	return t.emitted(newEvent(sessionID, now, StoreLocatorPayload{
		Location:  in.Location,
		Action:    in.Action,
		UsageRate: t.registry.Stats().StoreLocatorUsageRate(),
	})), nil
}

// ConversionInput carries one conversion.
type ConversionInput struct {
	Kind    string
	Value   float64
	FrameID string
}

// TrackConversion records a conversion against the session, updates the
// frame aggregate's selected counter, and hands revenue-bearing conversions
// to the attributor. Attribution failures are logged, not propagated.
func (t *Tracker) TrackConversion(ctx context.Context, sessionID string, in ConversionInput) (Event, error) {
	if sessionID == "" {
		return Event{}, t.validationErr("session id is required")
	}
	if in.Kind == "" {
		return Event{}, t.validationErr("conversion kind is required")
	}
	if err := t.locate(sessionID, EventConversion); err != nil {
		return Event{}, err
	}

	now := t.timeNow()
	err := t.registry.Mutate(sessionID, func(r *Record) {
		r.Conversions = append(r.Conversions, ConversionEvent{
			Kind:    in.Kind,
			Value:   in.Value,
			FrameID: in.FrameID,
			At:      now,
		})
	})
	if err != nil {
		return Event{}, err
	}

	var rate float64
	if in.FrameID != "" {
		snap := t.aggregates.Frames.AddCounter(in.FrameID, counterSelected, 1)
		if recommended := snap.Counters[counterRecommended]; recommended > 0 {
			rate = float64(snap.Counters[counterSelected]) / float64(recommended) * 100
		}
	}

	if t.attributor != nil && in.Value > 0 {
		if err := t.attributor.AttributeConversion(ctx, sessionID, in.Value, in.FrameID); err != nil {
			slog.WarnContext(ctx, "conversion attribution failed",
				"error", err,
				"session_id", sessionID,
			)
		}
	}

	return t.emitted(newEvent(sessionID, now, ConversionPayload{
		Kind:           in.Kind,
		Value:          in.Value,
		FrameID:        in.FrameID,
		ConversionRate: rate,
	})), nil
}
