package consult

import (
	"context"
	"errors"
	"math"
	"testing"
)

func newTestTracker() *Tracker {
	return NewTracker(TrackerConfig{
		Registry:   NewRegistry(),
		Aggregates: NewAggregates(),
	})
}

func mustStart(t *testing.T, tr *Tracker, sessionID string) {
	t.Helper()
	if _, err := tr.TrackConsultationStart(sessionID, StartInput{Platform: "web"}); err != nil {
		t.Fatalf("Expected no error starting %s, got %v", sessionID, err)
	}
}

func TestTracker_ConsultationLifecycleScenario(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	mustStart(t, tr, "s1")

	if _, err := tr.TrackFaceAnalysis("s1", FaceAnalysisInput{
		FaceShape:        "oval",
		Confidence:       0.9,
		ProcessingTimeMs: 800,
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := tr.TrackRecommendation("s1", RecommendationInput{
		FrameID:    "f1",
		Confidence: 0.8,
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if _, err := tr.TrackConversion(ctx, "s1", ConversionInput{
		Kind:    "purchase",
		Value:   120,
		FrameID: "f1",
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	rec, ok := tr.Registry().Get("s1")
	if !ok {
		t.Fatal("Expected record for s1")
	}
	if !rec.FaceAnalysisCompleted {
		t.Error("Expected face analysis completed")
	}
	if rec.RecommendationsGenerated != 1 {
		t.Errorf("Expected 1 recommendation, got %d", rec.RecommendationsGenerated)
	}
	if len(rec.Conversions) != 1 {
		t.Errorf("Expected 1 conversion event, got %d", len(rec.Conversions))
	}

	snap, ok := tr.Aggregates().Frames.Get("f1")
	if !ok {
		t.Fatal("Expected frame aggregate for f1")
	}
	if snap.Counters["recommended"] != 1 {
		t.Errorf("Expected recommended=1, got %d", snap.Counters["recommended"])
	}
	if snap.Counters["selected"] != 1 {
		t.Errorf("Expected selected=1, got %d", snap.Counters["selected"])
	}
}

func TestTracker_ConversionRateIsPercent(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	mustStart(t, tr, "s1")
	if _, err := tr.TrackRecommendation("s1", RecommendationInput{FrameID: "f1", Confidence: 0.8}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	ev, err := tr.TrackConversion(ctx, "s1", ConversionInput{Kind: "purchase", Value: 120, FrameID: "f1"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	payload, ok := ev.Payload.(ConversionPayload)
	if !ok {
		t.Fatalf("Expected ConversionPayload, got %T", ev.Payload)
	}
	if math.Abs(payload.ConversionRate-100) > 1e-9 {
		t.Errorf("Expected conversion rate 100, got %v", payload.ConversionRate)
	}
}

func TestTracker_ConversionWithoutRecommendation(t *testing.T) {
	tr := newTestTracker()

	mustStart(t, tr, "s1")
	ev, err := tr.TrackConversion(context.Background(), "s1", ConversionInput{Kind: "purchase", Value: 50, FrameID: "f9"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	payload := ev.Payload.(ConversionPayload)
	if payload.ConversionRate != 0 {
		t.Errorf("Expected rate 0 when nothing was recommended, got %v", payload.ConversionRate)
	}
}

func TestTracker_ValidationBeforeMutation(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"start without session id", func() error {
			_, err := tr.TrackConsultationStart("", StartInput{Platform: "web"})
			return err
		}},
		{"start without platform", func() error {
			_, err := tr.TrackConsultationStart("sX", StartInput{})
			return err
		}},
		{"stage without stage name", func() error {
			_, err := tr.TrackStageTransition("sX", StageInput{})
			return err
		}},
		{"face analysis without shape", func() error {
			_, err := tr.TrackFaceAnalysis("sX", FaceAnalysisInput{Confidence: 0.5})
			return err
		}},
		{"recommendation without frame", func() error {
			_, err := tr.TrackRecommendation("sX", RecommendationInput{Confidence: 0.5})
			return err
		}},
		{"voice without kind", func() error {
			_, err := tr.TrackVoiceInteraction("sX", VoiceInput{Language: "en"})
			return err
		}},
		{"locator with bad action", func() error {
			_, err := tr.TrackStoreLocator("sX", StoreLocatorInput{Location: "downtown", Action: "teleport"})
			return err
		}},
		{"conversion without kind", func() error {
			_, err := tr.TrackConversion(ctx, "sX", ConversionInput{Value: 10})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Expected ErrValidation, got %v", err)
			}
		})
	}

	// No ghost records may exist after any rejected call.
	if tr.Registry().Len() != 0 {
		t.Errorf("Expected empty registry after validation failures, got %d records", tr.Registry().Len())
	}
}

func TestTracker_UnknownSessionDoesNotCreateRecord(t *testing.T) {
	tr := newTestTracker()

	_, err := tr.TrackFaceAnalysis("ghost", FaceAnalysisInput{FaceShape: "oval", Confidence: 0.9})
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("Expected ErrUnknownSession, got %v", err)
	}

	if tr.Registry().Len() != 0 {
		t.Error("Unknown-session event must not create a record")
	}
	if tr.Aggregates().FaceShapes.Len() != 0 {
		t.Error("Unknown-session event must not update aggregates")
	}
}

func TestTracker_DuplicateStart(t *testing.T) {
	tr := newTestTracker()

	mustStart(t, tr, "s1")
	_, err := tr.TrackConsultationStart("s1", StartInput{Platform: "web"})
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("Expected ErrSessionExists, got %v", err)
	}
}

func TestTracker_StageTransitions(t *testing.T) {
	tr := newTestTracker()

	mustStart(t, tr, "s1")
	for _, stage := range []string{"face_analysis", "recommendation", "checkout"} {
		if _, err := tr.TrackStageTransition("s1", StageInput{Stage: stage}); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	rec, _ := tr.Registry().Get("s1")
	if rec.CurrentStage != "checkout" {
		t.Errorf("Expected current stage checkout, got %s", rec.CurrentStage)
	}
	if len(rec.Stages) != 4 { // "started" + 3 transitions
		t.Fatalf("Expected 4 stage entries, got %d", len(rec.Stages))
	}
	if rec.Stages[len(rec.Stages)-1].Stage != rec.CurrentStage {
		t.Error("CurrentStage must equal the last stage entry")
	}
}

func TestTracker_VoiceAggregateKey(t *testing.T) {
	tr := newTestTracker()

	mustStart(t, tr, "s1")
	if _, err := tr.TrackVoiceInteraction("s1", VoiceInput{
		Kind:             "search",
		Language:         "en",
		ProcessingTimeMs: 1200,
		Success:          true,
	}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	snap, ok := tr.Aggregates().Voice.Get("search_en")
	if !ok {
		t.Fatal("Expected voice aggregate keyed by kind and language")
	}
	if snap.Count != 1 {
		t.Errorf("Expected count 1, got %d", snap.Count)
	}
	if snap.SuccessRate == nil || *snap.SuccessRate != 1.0 {
		t.Errorf("Expected success rate 1.0, got %v", snap.SuccessRate)
	}
}

func TestTracker_StoreLocatorCounters(t *testing.T) {
	tr := newTestTracker()

	mustStart(t, tr, "s1")
	mustStart(t, tr, "s2")

	actions := []string{"search", "search", "view_details", "directions", "reservation"}
	for _, action := range actions {
		if _, err := tr.TrackStoreLocator("s1", StoreLocatorInput{Location: "downtown", Action: action}); err != nil {
			t.Fatalf("Expected no error for action %s, got %v", action, err)
		}
	}

	snap, _ := tr.Aggregates().Locations.Get("downtown")
	if snap.Counters["searches"] != 2 {
		t.Errorf("Expected 2 searches, got %d", snap.Counters["searches"])
	}
	if snap.Counters["viewDetails"] != 1 {
		t.Errorf("Expected 1 viewDetails, got %d", snap.Counters["viewDetails"])
	}
	if snap.Counters["directions"] != 1 {
		t.Errorf("Expected 1 directions, got %d", snap.Counters["directions"])
	}
	if snap.Counters["reservations"] != 1 {
		t.Errorf("Expected 1 reservations, got %d", snap.Counters["reservations"])
	}

	// One of two sessions used the locator.
	ev, err := tr.TrackStoreLocator("s1", StoreLocatorInput{Location: "downtown", Action: "search"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	payload := ev.Payload.(StoreLocatorPayload)
	if math.Abs(payload.UsageRate-0.5) > 1e-9 {
		t.Errorf("Expected usage rate 0.5, got %v", payload.UsageRate)
	}
}

// recordingAttributor captures attribution calls and optionally fails.
type recordingAttributor struct {
	calls int
	fail  bool
}

func (a *recordingAttributor) AttributeConversion(_ context.Context, _ string, _ float64, _ string) error {
	a.calls++
	if a.fail {
		return errors.New("commerce platform unavailable")
	}
	return nil
}

func TestTracker_RevenueConversionTriggersAttribution(t *testing.T) {
	attr := &recordingAttributor{}
	tr := NewTracker(TrackerConfig{
		Registry:   NewRegistry(),
		Aggregates: NewAggregates(),
		Attributor: attr,
	})

	mustStart(t, tr, "s1")
	if _, err := tr.TrackConversion(context.Background(), "s1", ConversionInput{Kind: "purchase", Value: 99.5}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if attr.calls != 1 {
		t.Errorf("Expected 1 attribution call, got %d", attr.calls)
	}

	// Zero-value conversions are not attributed.
	if _, err := tr.TrackConversion(context.Background(), "s1", ConversionInput{Kind: "wishlist", Value: 0}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if attr.calls != 1 {
		t.Errorf("Expected attribution skipped for zero value, got %d calls", attr.calls)
	}
}

func TestTracker_AttributionFailureIsIsolated(t *testing.T) {
	attr := &recordingAttributor{fail: true}
	tr := NewTracker(TrackerConfig{
		Registry:   NewRegistry(),
		Aggregates: NewAggregates(),
		Attributor: attr,
	})

	mustStart(t, tr, "s1")
	ev, err := tr.TrackConversion(context.Background(), "s1", ConversionInput{Kind: "purchase", Value: 10})
	if err != nil {
		t.Fatalf("Attribution failure must not fail the tracker call, got %v", err)
	}
	if ev.Type != EventConversion {
		t.Errorf("Expected conversion event, got %s", ev.Type)
	}
}

func TestTracker_EventEnvelope(t *testing.T) {
	tr := newTestTracker()

	ev, err := tr.TrackConsultationStart("s1", StartInput{Platform: "shopify"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if ev.ID == "" {
		t.Error("Expected event id")
	}
	if ev.Type != EventConsultationStarted {
		t.Errorf("Expected %s, got %s", EventConsultationStarted, ev.Type)
	}
	if ev.SessionID != "s1" {
		t.Errorf("Expected session s1, got %s", ev.SessionID)
	}
	if ev.At.IsZero() {
		t.Error("Expected event timestamp")
	}
	if _, ok := ev.Payload.(StartPayload); !ok {
		t.Errorf("Expected StartPayload, got %T", ev.Payload)
	}
}
