package attribution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/framepulse/internal/conversation"
	"github.com/onnwee/framepulse/internal/quality"
)

// stubScorer returns canned engagement metrics keyed by session id.
type stubScorer struct {
	metrics map[string]quality.EngagementMetrics
	err     error
}

func (s *stubScorer) Engagement(_ context.Context, session *conversation.Session) (quality.EngagementMetrics, error) {
	if s.err != nil {
		return quality.EngagementMetrics{}, s.err
	}
	return s.metrics[session.ID], nil
}

// stubCommerce returns a fixed sale set or an error, recording the filter it
// was asked for.
type stubCommerce struct {
	sales     []Sale
	err       error
	gotFilter Filter
}

func (s *stubCommerce) GetSales(_ context.Context, f Filter) ([]Sale, error) {
	s.gotFilter = f
	return s.sales, s.err
}

func newTestEngine(t *testing.T, scorer *stubScorer, commerce CommerceSource, sessionIDs ...string) (*Engine, *InMemoryReportRepository) {
	t.Helper()

	sessions := conversation.NewInMemoryStore()
	for _, id := range sessionIDs {
		sessions.Put(&conversation.Session{ID: id, StartedAt: time.Now()})
	}

	repo := NewInMemoryReportRepository()
	engine := NewEngine(EngineConfig{
		Sessions: sessions,
		Scorer:   scorer,
		Commerce: commerce,
		Reports:  repo,
	})
	return engine, repo
}

func TestEngine_AttributeSale_MissingSessionID(t *testing.T) {
	engine, _ := newTestEngine(t, &stubScorer{}, nil)

	_, err := engine.AttributeSale(context.Background(), Sale{ID: "sale-1"})
	if !errors.Is(err, ErrMissingSessionID) {
		t.Errorf("Expected ErrMissingSessionID, got %v", err)
	}
}

func TestEngine_AttributeSale_PolicyBoundaries(t *testing.T) {
	tests := []struct {
		name           string
		qualityScore   float64
		interactions   int
		wantAttributed bool
	}{
		{"high engagement", 0.8, 5, true},
		{"quality exactly at threshold", 0.5, 5, false},
		{"interactions exactly at threshold", 0.8, 3, false},
		{"low quality", 0.3, 10, false},
		{"just above both thresholds", 0.51, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &stubScorer{metrics: map[string]quality.EngagementMetrics{
				"s1": {SessionID: "s1", QualityScore: tt.qualityScore, InteractionCount: tt.interactions},
			}}
			engine, _ := newTestEngine(t, scorer, nil, "s1")

			report, err := engine.AttributeSale(context.Background(), Sale{
				ID:        "sale-1",
				SessionID: "s1",
				Amount:    120,
			})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if report.Attributed != tt.wantAttributed {
				t.Errorf("Expected attributed=%v, got %v", tt.wantAttributed, report.Attributed)
			}
			wantRevenue := 0.0
			if tt.wantAttributed {
				wantRevenue = 120
			}
			if report.Revenue != wantRevenue {
				t.Errorf("Expected revenue %v, got %v", wantRevenue, report.Revenue)
			}
			if report.Model != AttributionModel {
				t.Errorf("Expected model %s, got %s", AttributionModel, report.Model)
			}
		})
	}
}

func TestEngine_AttributeSale_UnknownSessionIsUnattributed(t *testing.T) {
	engine, repo := newTestEngine(t, &stubScorer{}, nil)

	report, err := engine.AttributeSale(context.Background(), Sale{
		ID:        "sale-1",
		SessionID: "gone",
		Amount:    50,
	})
	if err != nil {
		t.Fatalf("Expected unknown session to degrade, got %v", err)
	}
	if report.Attributed {
		t.Error("Expected unattributed report for unknown session")
	}

	stored, err := repo.GetByID(context.Background(), report.ID)
	if err != nil {
		t.Fatalf("Expected report persisted, got %v", err)
	}
	if stored.SessionID != "gone" {
		t.Errorf("Expected session id preserved, got %s", stored.SessionID)
	}
}

func TestEngine_AttributeConversion(t *testing.T) {
	scorer := &stubScorer{metrics: map[string]quality.EngagementMetrics{
		"s1": {SessionID: "s1", QualityScore: 0.9, InteractionCount: 10},
	}}
	engine, repo := newTestEngine(t, scorer, nil, "s1")

	if err := engine.AttributeConversion(context.Background(), "s1", 199.99, "frame-1"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	reports, err := repo.ListBySessionID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports))
	}
	if !reports[0].Attributed || reports[0].Revenue != 199.99 {
		t.Errorf("Expected attributed revenue 199.99, got %+v", reports[0])
	}
}

func TestEngine_ConversionRate(t *testing.T) {
	commerce := &stubCommerce{sales: []Sale{
		{ID: "c1", SessionID: "s1", Amount: 100},
		{ID: "c2", SessionID: "s1", Amount: 40}, // same session, counted once
		{ID: "c3", SessionID: "s2", Amount: 80},
	}}
	engine, _ := newTestEngine(t, &stubScorer{}, commerce)

	rate, err := engine.ConversionRate(context.Background(), []string{"s1", "s2", "s3", "s4"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rate.ConvertedSessions != 2 {
		t.Errorf("Expected 2 converted sessions, got %d", rate.ConvertedSessions)
	}
	if rate.Rate != 0.5 {
		t.Errorf("Expected rate 0.5, got %v", rate.Rate)
	}
}

func TestEngine_ConversionRate_EmptySessions(t *testing.T) {
	engine, _ := newTestEngine(t, &stubScorer{}, &stubCommerce{})

	rate, err := engine.ConversionRate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rate.Rate != 0 || rate.TotalSessions != 0 {
		t.Errorf("Expected zero rate for empty session set, got %+v", rate)
	}
}

func TestROI(t *testing.T) {
	tests := []struct {
		name          string
		cost, revenue float64
		wantNet       float64
		wantROI       float64
	}{
		{"profitable", 1000, 1500, 500, 0.5},
		{"loss", 1000, 600, -400, -0.4},
		{"zero cost", 0, 500, 500, 0},
		{"negative cost", -10, 500, 510, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ROI(tt.cost, tt.revenue)
			if got.NetProfit != tt.wantNet {
				t.Errorf("Expected net profit %v, got %v", tt.wantNet, got.NetProfit)
			}
			if got.ROI != tt.wantROI {
				t.Errorf("Expected ROI %v, got %v", tt.wantROI, got.ROI)
			}
		})
	}
}

func TestEngine_GenerateReport(t *testing.T) {
	scorer := &stubScorer{metrics: map[string]quality.EngagementMetrics{
		"s1": {SessionID: "s1", QualityScore: 0.9, InteractionCount: 8},
		"s2": {SessionID: "s2", QualityScore: 0.2, InteractionCount: 2},
	}}
	commerce := &stubCommerce{sales: []Sale{
		{ID: "c1", SessionID: "s1", Amount: 200},
		{ID: "c2", SessionID: "s2", Amount: 100},
		{ID: "c3", Amount: 50}, // no session id: skipped
	}}
	engine, _ := newTestEngine(t, scorer, commerce, "s1", "s2")

	summary := engine.GenerateReport(context.Background(), Filter{SessionIDs: []string{"s1", "s2", "s3"}}, 100)
	if summary.Error {
		t.Fatalf("Expected success, got error: %s", summary.Message)
	}
	if summary.SkippedSales != 1 {
		t.Errorf("Expected 1 skipped sale, got %d", summary.SkippedSales)
	}
	if len(summary.Reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(summary.Reports))
	}
	if summary.AttributedRevenue != 200 {
		t.Errorf("Expected attributed revenue 200, got %v", summary.AttributedRevenue)
	}
	if summary.Conversion.ConvertedSessions != 2 {
		t.Errorf("Expected 2 converted sessions, got %d", summary.Conversion.ConvertedSessions)
	}
	if summary.Investment.NetProfit != 100 || summary.Investment.ROI != 1 {
		t.Errorf("Expected net 100 ROI 1, got %+v", summary.Investment)
	}
}

func TestEngine_GenerateReport_DoesNotPersist(t *testing.T) {
	scorer := &stubScorer{metrics: map[string]quality.EngagementMetrics{
		"s1": {SessionID: "s1", QualityScore: 0.9, InteractionCount: 8},
	}}
	commerce := &stubCommerce{sales: []Sale{
		{ID: "c1", SessionID: "s1", Amount: 200},
	}}
	engine, repo := newTestEngine(t, scorer, commerce, "s1")

	// Dashboard polls re-evaluate; only pushed conversions write rows.
	for i := 0; i < 3; i++ {
		summary := engine.GenerateReport(context.Background(), Filter{SessionIDs: []string{"s1"}}, 0)
		if summary.Error {
			t.Fatalf("Expected success, got error: %s", summary.Message)
		}
	}

	stored, err := repo.ListSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Expected no persisted reports from summaries, got %d", len(stored))
	}
}

func TestEngine_GenerateReport_ForwardsFilter(t *testing.T) {
	commerce := &stubCommerce{}
	engine, _ := newTestEngine(t, &stubScorer{}, commerce)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	engine.GenerateReport(context.Background(), Filter{
		SessionIDs: []string{"s1"},
		From:       from,
		To:         to,
	}, 0)

	if !commerce.gotFilter.From.Equal(from) || !commerce.gotFilter.To.Equal(to) {
		t.Errorf("Expected time range forwarded to the sales fetch, got %+v", commerce.gotFilter)
	}
	if len(commerce.gotFilter.SessionIDs) != 1 {
		t.Errorf("Expected session ids forwarded, got %v", commerce.gotFilter.SessionIDs)
	}
}

func TestEngine_GenerateReport_CommerceFailure(t *testing.T) {
	commerce := &stubCommerce{err: errors.New("platform timeout")}
	engine, _ := newTestEngine(t, &stubScorer{}, commerce)

	summary := engine.GenerateReport(context.Background(), Filter{SessionIDs: []string{"s1"}}, 100)
	if !summary.Error {
		t.Fatal("Expected tagged error result")
	}
	if !strings.Contains(summary.Message, "platform timeout") {
		t.Errorf("Expected failure cause in message, got %q", summary.Message)
	}
	if summary.GeneratedAt.IsZero() {
		t.Error("Expected generated timestamp on error result")
	}
}
