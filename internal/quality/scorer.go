// Package quality computes bounded conversation quality scores and session
// engagement metrics from sentiment, resolution, and error-rate signals.
package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/framepulse/internal/conversation"
)

// Sentiment is the result of analyzing one message.
type Sentiment struct {
	Score float64 `json:"score"`
}

// SentimentAnalyzer is the external sentiment service. Scores are assumed to
// lie in [-1, 1]; the scorer does not renormalize them. The weighting below
// was tuned against that range — a service returning a different range needs
// adjusted weights, not a code change.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, text string) (Sentiment, error)
}

// Weights are the quality-score policy constants. They are configuration,
// not learned values.
type Weights struct {
	Sentiment  float64
	Resolution float64
	ErrorRate  float64
}

// DefaultWeights is the standard quality weighting.
var DefaultWeights = Weights{
	Sentiment:  0.5,
	Resolution: 0.3,
	ErrorRate:  0.2,
}

// Scorer computes quality scores for sessions.
type Scorer struct {
	sentiment SentimentAnalyzer
	weights   Weights
	timeNow   func() time.Time
}

// NewScorer creates a Scorer using the given sentiment analyzer and weights.
func NewScorer(sentiment SentimentAnalyzer, weights Weights) *Scorer {
	return &Scorer{
		sentiment: sentiment,
		weights:   weights,
		timeNow:   time.Now,
	}
}

// Score computes the session quality score in [0, 1].
// A session with no messages scores 0.
func (s *Scorer) Score(ctx context.Context, session *conversation.Session) (float64, error) {
	if len(session.Messages) == 0 {
		return 0, nil
	}

	var sentimentSum float64
	for _, msg := range session.Messages {
		sent, err := s.sentiment.Analyze(ctx, msg.Text)
		if err != nil {
			return 0, fmt.Errorf("sentiment analysis failed for session %s: %w", session.ID, err)
		}
		sentimentSum += sent.Score
	}
	avgSentiment := sentimentSum / float64(len(session.Messages))

	errorRate := float64(len(session.Errors)) / float64(len(session.Messages))

	resolutionRate := 0.0
	if session.Resolved {
		resolutionRate = 1.0
	}

	score := s.weights.Sentiment*avgSentiment +
		s.weights.Resolution*resolutionRate +
		s.weights.ErrorRate*(1-errorRate)

	return clamp(score, 0, 1), nil
}

// EngagementMetrics is the derived engagement snapshot for one session.
type EngagementMetrics struct {
	SessionID              string   `json:"session_id"`
	QualityScore           float64  `json:"quality_score"`
	SessionDurationSeconds float64  `json:"session_duration_seconds"`
	InteractionCount       int      `json:"interaction_count"`
	InteractionsPerMinute  float64  `json:"interactions_per_minute"`
	Satisfaction           *float64 `json:"satisfaction,omitempty"`
}

// Engagement derives the full engagement snapshot for a session, including
// the quality score. InteractionsPerMinute is 0 when the duration is 0.
func (s *Scorer) Engagement(ctx context.Context, session *conversation.Session) (EngagementMetrics, error) {
	score, err := s.Score(ctx, session)
	if err != nil {
		return EngagementMetrics{}, err
	}

	duration := session.Duration(s.timeNow())
	seconds := duration.Seconds()

	perMinute := 0.0
	if seconds > 0 {
		perMinute = float64(len(session.Messages)) / (seconds / 60)
	}

	return EngagementMetrics{
		SessionID:              session.ID,
		QualityScore:           score,
		SessionDurationSeconds: seconds,
		InteractionCount:       len(session.Messages),
		InteractionsPerMinute:  perMinute,
		Satisfaction:           session.Satisfaction,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
