// Package attribution correlates commerce-platform sales with session
// engagement to produce attribution reports, conversion rates, and ROI
// figures. It reads engagement state; it never writes it.
package attribution

import (
	"context"
	"errors"
	"time"
)

// ErrMissingSessionID is returned when a sale carries no session id.
var ErrMissingSessionID = errors.New("sale has no session id")

// AttributionModel names the policy used for attribution decisions.
const AttributionModel = "high_engagement_last_touch"

// Sale is one commerce-platform transaction.
type Sale struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency,omitempty"`
	FrameID   string    `json:"frame_id,omitempty"`
	At        time.Time `json:"at"`
}

// Filter selects sales from the commerce source.
type Filter struct {
	SessionIDs []string
	From       time.Time
	To         time.Time
}

// CommerceSource is the external commerce platform. Calls are synchronous
// and may fail; callers surface failures rather than retrying internally.
type CommerceSource interface {
	GetSales(ctx context.Context, f Filter) ([]Sale, error)
}

// Report is the attribution outcome for one sale. Immutable after creation.
type Report struct {
	ID         string    `json:"id"`
	SaleID     string    `json:"sale_id"`
	SessionID  string    `json:"session_id"`
	Attributed bool      `json:"attributed"`
	Revenue    float64   `json:"revenue"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversionRate summarizes session-to-sale conversion over a session set.
type ConversionRate struct {
	ConvertedSessions int     `json:"converted_sessions"`
	TotalSessions     int     `json:"total_sessions"`
	Rate              float64 `json:"rate"`
}

// ROIResult is the return-on-investment for a cost/revenue pair.
type ROIResult struct {
	NetProfit float64 `json:"net_profit"`
	ROI       float64 `json:"roi"`
}

// ROI computes net profit and return on investment. A non-positive cost
// yields an ROI of 0 rather than a division by zero.
func ROI(cost, revenue float64) ROIResult {
	net := revenue - cost
	r := 0.0
	if cost > 0 {
		r = net / cost
	}
	return ROIResult{NetProfit: net, ROI: r}
}

// SummaryReport composes conversion rate, per-sale attribution, and ROI.
// Collaborator failures produce a tagged error result (Error=true) rather
// than an error return: dashboard reports are best-effort, not
// transactional.
type SummaryReport struct {
	Error             bool           `json:"error,omitempty"`
	Message           string         `json:"message,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
	Conversion        ConversionRate `json:"conversion"`
	Reports           []Report       `json:"reports"`
	AttributedRevenue float64        `json:"attributed_revenue"`
	SkippedSales      int            `json:"skipped_sales,omitempty"`
	Investment        ROIResult      `json:"investment"`
}
