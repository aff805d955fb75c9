// Package conversation defines the read-only session model owned by the
// external conversation store, and store implementations for retrieving it.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/framepulse/internal/privacy"
)

// ErrSessionNotFound is returned when a session id is unknown to the store.
var ErrSessionNotFound = errors.New("session not found")

// Message is a single utterance in a consultation session.
type Message struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// SessionError records a failure that occurred during a session.
type SessionError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Session is one guided shopping session. The pipeline only ever reads it;
// engagement metrics are derived from it, never written back.
type Session struct {
	ID           string            `json:"id"`
	Platform     string            `json:"platform"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Messages     []Message         `json:"messages"`
	User         privacy.User      `json:"user"`
	Resolved     bool              `json:"resolved"`
	Errors       []SessionError    `json:"errors,omitempty"`
	Satisfaction *float64          `json:"satisfaction,omitempty"` // 1-5 scale when present
	Preferences  map[string]string `json:"preferences,omitempty"`
}

// Duration returns the session length, using now for sessions still open.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Store retrieves sessions from the external conversation system.
type Store interface {
	// GetConversationByID returns the session for id, or ErrSessionNotFound.
	GetConversationByID(ctx context.Context, id string) (*Session, error)
}
