// Package api provides HTTP handlers for the Framepulse API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/analytics"
	"github.com/onnwee/framepulse/internal/broadcast"
	"github.com/onnwee/framepulse/internal/consult"
	"github.com/onnwee/framepulse/internal/middleware"
)

// TrackHandlers holds dependencies for the event ingestion endpoints.
// Hub, alert engine, and analytics are optional: a nil hub means events are
// tracked without fan-out, a nil engine disables alerting.
type TrackHandlers struct {
	tracker   *consult.Tracker
	alerts    *alert.Engine
	hub       *broadcast.Hub
	analytics *analytics.Service
}

// TrackHandlersConfig configures the tracking handlers.
type TrackHandlersConfig struct {
	Tracker   *consult.Tracker
	Alerts    *alert.Engine
	Hub       *broadcast.Hub
	Analytics *analytics.Service
}

// NewTrackHandlers creates a new TrackHandlers instance.
func NewTrackHandlers(cfg TrackHandlersConfig) *TrackHandlers {
	return &TrackHandlers{
		tracker:   cfg.Tracker,
		alerts:    cfg.Alerts,
		hub:       cfg.Hub,
		analytics: cfg.Analytics,
	}
}

// TrackResponse is the body returned for every accepted event. Alert is set
// when the event violated a threshold rule.
type TrackResponse struct {
	Event consult.Event `json:"event"`
	Alert *alert.Alert  `json:"alert,omitempty"`
}

// TrackStartRequest is the request body for POST /track/start.
type TrackStartRequest struct {
	SessionID string `json:"session_id"`
	Platform  string `json:"platform"`
}

// TrackStageRequest is the request body for POST /track/stage.
type TrackStageRequest struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
}

// TrackFaceAnalysisRequest is the request body for POST /track/face-analysis.
type TrackFaceAnalysisRequest struct {
	SessionID        string  `json:"session_id"`
	FaceShape        string  `json:"face_shape"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// TrackRecommendationRequest is the request body for POST /track/recommendation.
type TrackRecommendationRequest struct {
	SessionID  string  `json:"session_id"`
	FrameID    string  `json:"frame_id"`
	Confidence float64 `json:"confidence"`
}

// TrackVoiceRequest is the request body for POST /track/voice.
type TrackVoiceRequest struct {
	SessionID        string  `json:"session_id"`
	Kind             string  `json:"kind"`
	Language         string  `json:"language,omitempty"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	Success          bool    `json:"success"`
}

// TrackStoreLocatorRequest is the request body for POST /track/store-locator.
type TrackStoreLocatorRequest struct {
	SessionID string `json:"session_id"`
	Location  string `json:"location"`
	Action    string `json:"action"`
}

// TrackConversionRequest is the request body for POST /track/conversion.
type TrackConversionRequest struct {
	SessionID string  `json:"session_id"`
	Kind      string  `json:"kind"`
	Value     float64 `json:"value,omitempty"`
	FrameID   string  `json:"frame_id,omitempty"`
}

// decodeTrackRequest enforces POST and decodes the JSON body into dst.
// Returns false after writing the error response when the request is unusable.
func decodeTrackRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeTrackError maps tracker sentinels to API error responses.
func writeTrackError(w http.ResponseWriter, ctx context.Context, err error) {
	var code string
	switch {
	case errors.Is(err, consult.ErrValidation):
		code = ErrCodeValidation
	case errors.Is(err, consult.ErrUnknownSession):
		code = ErrCodeUnknownSession
	case errors.Is(err, consult.ErrSessionExists):
		code = ErrCodeSessionExists
	default:
		code = ErrCodeInternal
	}
	ctx = middleware.SetErrorCode(ctx, code)
	WriteError(w, ctx, StatusCodeMapping(code), code, err.Error())
}

// emit publishes an accepted event, runs it through the alert engine,
// re-evaluates the global rate rules, and writes the 202 response.
func (h *TrackHandlers) emit(w http.ResponseWriter, r *http.Request, ev consult.Event) {
	ctx := r.Context()

	if h.hub != nil {
		h.hub.Publish(ev)
	}

	var fired *alert.Alert
	if h.alerts != nil {
		if a := h.alerts.Evaluate(ev); a != nil {
			fired = a
			if h.hub != nil {
				h.hub.PublishAlert(*a)
			}
		}
	}

	// Every event can move a global rate: conversions move the conversion
	// rate, voice failures move the error rate.
	h.publishRateAlerts()

	writeJSON(w, ctx, http.StatusAccepted, TrackResponse{Event: ev, Alert: fired})
}

// publishRateAlerts evaluates the global rate rules against the current
// metrics sample and fans any violations out to the dashboard.
func (h *TrackHandlers) publishRateAlerts() {
	if h.alerts == nil || h.analytics == nil || h.hub == nil {
		return
	}
	if sample, ok := h.analytics.MetricsSample(); ok {
		for _, a := range h.alerts.EvaluateMetrics(sample) {
			h.hub.PublishAlert(a)
		}
	}
}

// Start handles POST /track/start.
func (h *TrackHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req TrackStartRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackConsultationStart(req.SessionID, consult.StartInput{
		Platform: req.Platform,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}

// Stage handles POST /track/stage.
func (h *TrackHandlers) Stage(w http.ResponseWriter, r *http.Request) {
	var req TrackStageRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackStageTransition(req.SessionID, consult.StageInput{
		Stage: req.Stage,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}

// FaceAnalysis handles POST /track/face-analysis.
func (h *TrackHandlers) FaceAnalysis(w http.ResponseWriter, r *http.Request) {
	var req TrackFaceAnalysisRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackFaceAnalysis(req.SessionID, consult.FaceAnalysisInput{
		FaceShape:        req.FaceShape,
		Confidence:       req.Confidence,
		ProcessingTimeMs: req.ProcessingTimeMs,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}

// Recommendation handles POST /track/recommendation.
func (h *TrackHandlers) Recommendation(w http.ResponseWriter, r *http.Request) {
	var req TrackRecommendationRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackRecommendation(req.SessionID, consult.RecommendationInput{
		FrameID:    req.FrameID,
		Confidence: req.Confidence,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}

// Voice handles POST /track/voice.
func (h *TrackHandlers) Voice(w http.ResponseWriter, r *http.Request) {
	var req TrackVoiceRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackVoiceInteraction(req.SessionID, consult.VoiceInput{
		Kind:             req.Kind,
		Language:         req.Language,
		ProcessingTimeMs: req.ProcessingTimeMs,
		Success:          req.Success,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}

// StoreLocator handles POST /track/store-locator.
func (h *TrackHandlers) StoreLocator(w http.ResponseWriter, r *http.Request) {
	var req TrackStoreLocatorRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackStoreLocator(req.SessionID, consult.StoreLocatorInput{
		Location: req.Location,
		Action:   req.Action,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}

// Conversion handles POST /track/conversion.
func (h *TrackHandlers) Conversion(w http.ResponseWriter, r *http.Request) {
	var req TrackConversionRequest
	if !decodeTrackRequest(w, r, &req) {
		return
	}

	ev, err := h.tracker.TrackConversion(r.Context(), req.SessionID, consult.ConversionInput{
		Kind:    req.Kind,
		Value:   req.Value,
		FrameID: req.FrameID,
	})
	if err != nil {
		writeTrackError(w, r.Context(), err)
		return
	}
	h.emit(w, r, ev)
}
