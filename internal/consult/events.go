// Package consult tracks behavioral events for live consultation sessions:
// per-session state, streaming aggregate updates, and normalized event
// construction for downstream alerting and broadcast.
package consult

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the behavioral domain of an event.
type EventType string

// Event types produced by the trackers.
const (
	EventConsultationStarted EventType = "consultation_started"
	EventStageTransition     EventType = "stage_transition"
	EventFaceAnalysis        EventType = "face_analysis"
	EventRecommendation      EventType = "recommendation_generated"
	EventVoiceInteraction    EventType = "voice_interaction"
	EventStoreLocator        EventType = "store_locator"
	EventConversion          EventType = "conversion"
)

// Payload is the type-specific body of an Event. Each payload kind carries
// only the fields its event type requires; nothing user-identifying is ever
// placed in a payload.
type Payload interface {
	EventType() EventType
}

// Event is an immutable record of one tracked behavior. It is produced by
// exactly one tracker call and never mutated afterwards.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Payload   Payload   `json:"payload"`
}

// newEvent builds an event envelope. Callers have already validated the
// session id and payload fields.
func newEvent(sessionID string, at time.Time, payload Payload) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      payload.EventType(),
		SessionID: sessionID,
		At:        at,
		Payload:   payload,
	}
}

// StartPayload announces a new consultation session.
type StartPayload struct {
	Platform string `json:"platform"`
}

func (StartPayload) EventType() EventType { return EventConsultationStarted }

// StagePayload records a stage transition within a session.
type StagePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (StagePayload) EventType() EventType { return EventStageTransition }

// FaceAnalysisPayload records a completed face shape detection.
type FaceAnalysisPayload struct {
	FaceShape        string  `json:"face_shape"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

func (FaceAnalysisPayload) EventType() EventType { return EventFaceAnalysis }

// RecommendationPayload records a generated frame recommendation.
type RecommendationPayload struct {
	FrameID    string  `json:"frame_id"`
	Confidence float64 `json:"confidence"`
}

func (RecommendationPayload) EventType() EventType { return EventRecommendation }

// VoicePayload records a voice interaction outcome.
type VoicePayload struct {
	Kind             string  `json:"kind"` // e.g. "search", "command"
	Language         string  `json:"language"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	Success          bool    `json:"success"`
}

func (VoicePayload) EventType() EventType { return EventVoiceInteraction }

// StoreLocatorPayload records a store-locator action. UsageRate is the
// fraction of currently-tracked sessions that have used the locator.
type StoreLocatorPayload struct {
	Location  string  `json:"location"`
	Action    string  `json:"action"`
	UsageRate float64 `json:"usage_rate"`
}

func (StoreLocatorPayload) EventType() EventType { return EventStoreLocator }

// ConversionPayload records a conversion. ConversionRate is the percentage
// of recommendations of the selected frame that converted, when a frame is
// attached.
type ConversionPayload struct {
	Kind           string  `json:"kind"` // e.g. "purchase", "reservation"
	Value          float64 `json:"value"`
	FrameID        string  `json:"frame_id,omitempty"`
	ConversionRate float64 `json:"conversion_rate"`
}

func (ConversionPayload) EventType() EventType { return EventConversion }

// String implements fmt.Stringer for log readability.
func (e Event) String() string {
	return fmt.Sprintf("%s[%s session=%s]", e.Type, e.ID, e.SessionID)
}
