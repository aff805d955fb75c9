// Package api provides HTTP API handlers for the Framepulse API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/framepulse/internal/analytics"
	"github.com/onnwee/framepulse/internal/middleware"
)

// HealthHandlers provides health and readiness check endpoints for
// Kubernetes probes. Dependency probing is delegated to the analytics
// service, which owns the registered dependency checkers.
type HealthHandlers struct {
	service *analytics.Service
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(service *analytics.Service) *HealthHandlers {
	return &HealthHandlers{service: service}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Timestamp    string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Always returns 200 while the process can serve requests; degraded
// dependencies are reported in the body but do not fail liveness.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.service.HealthCheck(ctx)

	writeJSON(w, ctx, http.StatusOK, HealthResponse{
		Status:       status.Status,
		Dependencies: status.Dependencies,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe).
// Returns 200 when every registered dependency answers its health check and
// 503 as soon as one fails.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.service.HealthCheck(ctx)

	statusCode := http.StatusOK
	if status.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, ctx, statusCode, HealthResponse{
		Status:       status.Status,
		Dependencies: status.Dependencies,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}
