package attribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/onnwee/framepulse/internal/conversation"
	"github.com/onnwee/framepulse/internal/quality"
)

// Policy decides which sessions earn attribution. A sale is attributed to
// its session only when the session shows high engagement: quality score
// strictly above MinQualityScore and interaction count strictly above
// MinInteractions.
type Policy struct {
	MinQualityScore float64
	MinInteractions int
}

// DefaultPolicy is the standard high-engagement threshold.
var DefaultPolicy = Policy{
	MinQualityScore: 0.5,
	MinInteractions: 3,
}

// EngagementScorer derives engagement metrics for a session.
type EngagementScorer interface {
	Engagement(ctx context.Context, session *conversation.Session) (quality.EngagementMetrics, error)
}

// Engine runs attribution decisions and builds summary reports.
type Engine struct {
	sessions conversation.Store
	scorer   EngagementScorer
	commerce CommerceSource
	reports  ReportRepository
	policy   Policy
	metrics  *Metrics
	timeNow  func() time.Time
}

// EngineConfig configures an Engine. Sessions, Scorer, and Reports are
// required; Commerce and Metrics are optional (an engine without a commerce
// source still attributes conversions pushed to it, but cannot build
// summary reports).
type EngineConfig struct {
	Sessions conversation.Store
	Scorer   EngagementScorer
	Commerce CommerceSource
	Reports  ReportRepository
	Policy   Policy
	Metrics  *Metrics
}

// NewEngine creates an attribution engine.
func NewEngine(cfg EngineConfig) *Engine {
	policy := cfg.Policy
	if policy == (Policy{}) {
		policy = DefaultPolicy
	}
	return &Engine{
		sessions: cfg.Sessions,
		scorer:   cfg.Scorer,
		commerce: cfg.Commerce,
		reports:  cfg.Reports,
		policy:   policy,
		metrics:  cfg.Metrics,
		timeNow:  time.Now,
	}
}

// AttributeSale decides attribution for one sale and persists the report.
// A sale without a session id fails with ErrMissingSessionID; a sale whose
// session is unknown produces an unattributed report rather than an error,
// since commerce data routinely outlives session retention.
func (e *Engine) AttributeSale(ctx context.Context, sale Sale) (Report, error) {
	report, err := e.evaluate(ctx, sale)
	if err != nil {
		return Report{}, err
	}

	if err := e.reports.Create(ctx, &report); err != nil {
		return Report{}, fmt.Errorf("failed to persist attribution report: %w", err)
	}

	if e.metrics != nil {
		e.metrics.IncSalesProcessed(report.Attributed)
	}
	return report, nil
}

// evaluate runs the attribution decision for one sale without persisting it.
func (e *Engine) evaluate(ctx context.Context, sale Sale) (Report, error) {
	if sale.SessionID == "" {
		return Report{}, ErrMissingSessionID
	}

	attributed := false
	session, err := e.sessions.GetConversationByID(ctx, sale.SessionID)
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		slog.WarnContext(ctx, "sale references unknown session",
			"sale_id", sale.ID,
			"session_id", sale.SessionID,
		)
	case err != nil:
		return Report{}, fmt.Errorf("failed to load session %s: %w", sale.SessionID, err)
	default:
		engagement, err := e.scorer.Engagement(ctx, session)
		if err != nil {
			return Report{}, fmt.Errorf("failed to score session %s: %w", sale.SessionID, err)
		}
		attributed = engagement.QualityScore > e.policy.MinQualityScore &&
			engagement.InteractionCount > e.policy.MinInteractions
	}

	report := Report{
		ID:         uuid.New().String(),
		SaleID:     sale.ID,
		SessionID:  sale.SessionID,
		Attributed: attributed,
		Model:      AttributionModel,
		CreatedAt:  e.timeNow(),
	}
	if attributed {
		report.Revenue = sale.Amount
	}
	return report, nil
}

// AttributeConversion accepts a revenue-bearing conversion pushed from the
// event pipeline and runs it through AttributeSale.
func (e *Engine) AttributeConversion(ctx context.Context, sessionID string, value float64, frameID string) error {
	_, err := e.AttributeSale(ctx, Sale{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Amount:    value,
		FrameID:   frameID,
		At:        e.timeNow(),
	})
	return err
}

// ConversionRate computes the fraction of the given sessions that produced
// at least one sale. An empty session set yields a zero rate.
func (e *Engine) ConversionRate(ctx context.Context, sessionIDs []string) (ConversionRate, error) {
	if len(sessionIDs) == 0 {
		return ConversionRate{}, nil
	}
	if e.commerce == nil {
		return ConversionRate{}, errors.New("no commerce source configured")
	}

	sales, err := e.commerce.GetSales(ctx, Filter{SessionIDs: sessionIDs})
	if err != nil {
		return ConversionRate{}, fmt.Errorf("failed to fetch sales: %w", err)
	}

	converted := make(map[string]struct{}, len(sales))
	for _, sale := range sales {
		if sale.SessionID != "" {
			converted[sale.SessionID] = struct{}{}
		}
	}

	return ConversionRate{
		ConvertedSessions: len(converted),
		TotalSessions:     len(sessionIDs),
		Rate:              float64(len(converted)) / float64(len(sessionIDs)),
	}, nil
}

// GenerateReport builds the full ROI summary for the sales matching f.
// It re-evaluates attribution without persisting: report rows are only
// written when conversions are pushed through AttributeSale, so dashboard
// polls never grow the report store. Collaborator failures do not abort the
// dashboard: they come back as a tagged error result. Sales without a
// session id are skipped and counted.
func (e *Engine) GenerateReport(ctx context.Context, f Filter, cost float64) SummaryReport {
	now := e.timeNow()

	if e.commerce == nil {
		return SummaryReport{Error: true, Message: "no commerce source configured", GeneratedAt: now}
	}

	sales, err := e.commerce.GetSales(ctx, f)
	if err != nil {
		slog.ErrorContext(ctx, "sales fetch failed", "error", err)
		return SummaryReport{
			Error:       true,
			Message:     fmt.Sprintf("failed to fetch sales: %v", err),
			GeneratedAt: now,
		}
	}

	summary := SummaryReport{GeneratedAt: now}
	converted := make(map[string]struct{})

	for _, sale := range sales {
		report, err := e.evaluate(ctx, sale)
		if errors.Is(err, ErrMissingSessionID) {
			summary.SkippedSales++
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "attribution failed", "error", err, "sale_id", sale.ID)
			return SummaryReport{
				Error:       true,
				Message:     fmt.Sprintf("attribution failed for sale %s: %v", sale.ID, err),
				GeneratedAt: now,
			}
		}

		summary.Reports = append(summary.Reports, report)
		converted[sale.SessionID] = struct{}{}
		if report.Attributed {
			summary.AttributedRevenue += report.Revenue
		}
	}

	summary.Conversion = ConversionRate{
		ConvertedSessions: len(converted),
		TotalSessions:     len(f.SessionIDs),
	}
	if len(f.SessionIDs) > 0 {
		summary.Conversion.Rate = float64(len(converted)) / float64(len(f.SessionIDs))
	}
	summary.Investment = ROI(cost, summary.AttributedRevenue)
	return summary
}
