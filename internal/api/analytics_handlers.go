// Package api provides HTTP handlers for analytics reads.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/framepulse/internal/alert"
	"github.com/onnwee/framepulse/internal/analytics"
	"github.com/onnwee/framepulse/internal/attribution"
	"github.com/onnwee/framepulse/internal/broadcast"
	"github.com/onnwee/framepulse/internal/consult"
	"github.com/onnwee/framepulse/internal/conversation"
	"github.com/onnwee/framepulse/internal/middleware"
	"github.com/onnwee/framepulse/internal/privacy"
	"github.com/onnwee/framepulse/internal/quality"
)

// AnalyticsHandlers holds dependencies for the analytics read endpoints.
// Attribution, sessions, and scorer are optional: without them the ROI and
// engagement endpoints report not found.
type AnalyticsHandlers struct {
	service    *analytics.Service
	attrib     *attribution.Engine
	registry   *consult.Registry
	sessions   conversation.Store
	scorer     *quality.Scorer
	anonymizer *privacy.Anonymizer
	alerts     *alert.Engine
	hub        *broadcast.Hub
}

// AnalyticsHandlersConfig configures the analytics handlers.
type AnalyticsHandlersConfig struct {
	Service    *analytics.Service
	Attrib     *attribution.Engine
	Registry   *consult.Registry
	Sessions   conversation.Store
	Scorer     *quality.Scorer
	Anonymizer *privacy.Anonymizer
	Alerts     *alert.Engine
	Hub        *broadcast.Hub
}

// NewAnalyticsHandlers creates a new AnalyticsHandlers instance.
func NewAnalyticsHandlers(cfg AnalyticsHandlersConfig) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		service:    cfg.Service,
		attrib:     cfg.Attrib,
		registry:   cfg.Registry,
		sessions:   cfg.Sessions,
		scorer:     cfg.Scorer,
		anonymizer: cfg.Anonymizer,
		alerts:     cfg.Alerts,
		hub:        cfg.Hub,
	}
}

// parseTimeRange reads optional from/to RFC 3339 query parameters.
func parseTimeRange(r *http.Request) (analytics.TimeRange, error) {
	var tr analytics.TimeRange
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return tr, err
		}
		tr.From = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return tr, err
		}
		tr.To = t
	}
	return tr, nil
}

// Comprehensive handles GET /analytics/comprehensive?from=&to=.
func (h *AnalyticsHandlers) Comprehensive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	tr, err := parseTimeRange(r)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
			"from/to must be RFC 3339 timestamps")
		return
	}

	report, err := h.service.Comprehensive(ctx, tr)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build comprehensive report", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	writeJSON(w, ctx, http.StatusOK, report)
}

// ROI handles GET /analytics/roi?cost=. The summary covers every currently
// tracked session; upstream commerce failures come back tagged inside the
// summary rather than as an HTTP error.
func (h *AnalyticsHandlers) ROI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	if h.attrib == nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Attribution is not configured")
		return
	}

	cost := 0.0
	if raw := r.URL.Query().Get("cost"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
				"cost must be a non-negative number")
			return
		}
		cost = parsed
	}

	summary := h.attrib.GenerateReport(ctx, attribution.Filter{SessionIDs: h.registry.Keys()}, cost)
	writeJSON(w, ctx, http.StatusOK, summary)
}

// Engagement handles GET /analytics/engagement/{session_id}: it scores the
// session's conversation and feeds the result into the global engagement
// aggregates.
func (h *AnalyticsHandlers) Engagement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	if h.sessions == nil || h.scorer == nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Engagement scoring is not configured")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/analytics/engagement/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	session, err := h.sessions.GetConversationByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Conversation session not found")
			return
		}
		slog.ErrorContext(ctx, "failed to fetch conversation session",
			"error", err,
			"session_id", sessionID,
		)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	metrics, err := h.scorer.Engagement(ctx, session)
	if err != nil {
		slog.ErrorContext(ctx, "failed to score engagement",
			"error", err,
			"session_id", sessionID,
		)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	h.service.ObserveEngagement(metrics)

	// A freshly scored session moves the satisfaction mean; re-check the
	// global rate rules against it.
	if h.alerts != nil && h.hub != nil {
		if sample, ok := h.service.MetricsSample(); ok {
			for _, a := range h.alerts.EvaluateMetrics(sample) {
				h.hub.PublishAlert(a)
			}
		}
	}

	resp := EngagementResponse{EngagementMetrics: metrics}
	if h.anonymizer != nil {
		user := h.anonymizer.AnonymizeUser(session.User)
		resp.User = &user
	}
	resp.Preferences = privacy.SanitizeUserData(session.Preferences)
	writeJSON(w, ctx, http.StatusOK, resp)
}

// EngagementResponse is the engagement endpoint body. User is included only
// when an anonymizer is configured, and is always the privacy-transformed
// view; preferences are sanitized of PII keys unconditionally.
type EngagementResponse struct {
	quality.EngagementMetrics
	User        *privacy.User     `json:"user,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// RemoveSession handles DELETE /sessions/{session_id}: the external reaper
// removes finished consultation records. Removal is idempotent.
func (h *AnalyticsHandlers) RemoveSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodDelete {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid URL path")
		return
	}

	h.registry.Remove(sessionID)
	w.WriteHeader(http.StatusNoContent)
}
