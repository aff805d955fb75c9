// Package api provides the WebSocket handler for dashboard observers.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onnwee/framepulse/internal/auth"
	"github.com/onnwee/framepulse/internal/broadcast"
	"github.com/onnwee/framepulse/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins from config before exposing beyond the
		// internal dashboard network
		return true
	},
}

// DashboardHandlers holds dependencies for the dashboard WebSocket endpoint.
type DashboardHandlers struct {
	hub *broadcast.Hub
	jwt *auth.JWTService
}

// NewDashboardHandlers creates a new DashboardHandlers instance.
func NewDashboardHandlers(hub *broadcast.Hub, jwt *auth.JWTService) *DashboardHandlers {
	return &DashboardHandlers{
		hub: hub,
		jwt: jwt,
	}
}

// observerToken extracts the dashboard token from the Authorization header,
// falling back to the token query parameter for browser WebSocket clients
// that cannot set headers.
func observerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Subscribe handles GET /dashboard/ws.
// After JWT validation the connection is upgraded and registered with the
// hub; the observer's first message is always the initial-state snapshot.
// The encoding query parameter selects the wire format (json default, cbor).
func (h *DashboardHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	token := observerToken(r)
	if token == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Missing dashboard token")
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid dashboard token")
		return
	}
	ctx = middleware.SetSubject(ctx, claims.Subject)
	middleware.UpdateResponseContext(w, ctx)

	var encoding broadcast.Encoding
	switch r.URL.Query().Get("encoding") {
	case "", "json":
		encoding = broadcast.EncodingJSON
	case "cbor":
		encoding = broadcast.EncodingCBOR
	default:
		ctx = middleware.SetErrorCode(ctx, ErrCodeUnsupportedEncoding)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnsupportedEncoding,
			"Unsupported encoding; use json or cbor")
		return
	}

	obs, err := h.hub.Subscribe(ctx, broadcast.SubscribeOptions{Encoding: encoding})
	if err != nil {
		slog.ErrorContext(ctx, "failed to register dashboard observer", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.Unsubscribe(obs)
		slog.ErrorContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"observer_id", obs.ID(),
		)
		return
	}

	messageType := websocket.TextMessage
	if encoding == broadcast.EncodingCBOR {
		messageType = websocket.BinaryMessage
	}

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "dashboard observer connected",
		"observer_id", obs.ID(),
		"subject", claims.Subject,
		"encoding", string(encoding),
		"request_id", requestID,
	)

	defer func() {
		h.hub.Unsubscribe(obs)
		conn.Close()
		slog.InfoContext(ctx, "dashboard observer disconnected",
			"observer_id", obs.ID(),
			"request_id", requestID,
		)
	}()

	// Write pump: deliver queued messages until the hub closes the channel
	// (unsubscribe or queue overflow) or the write fails.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range obs.Messages() {
			if err := conn.WriteMessage(messageType, msg); err != nil {
				return
			}
		}
		// Channel closed by the hub: tell the client before dropping.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "observer disconnected"),
			time.Now().Add(time.Second))
	}()

	// Read loop: observers don't send messages, but reading is how we detect
	// disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"observer_id", obs.ID(),
				)
			}
			break
		}
	}

	h.hub.Unsubscribe(obs)
	<-done
}
