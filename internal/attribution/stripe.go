package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/charge"
)

// Metadata keys the storefront sets on each charge.
const (
	metadataSessionID = "consult_session_id"
	metadataFrameID   = "frame_id"
)

// StripeSource implements CommerceSource against the Stripe Charges API.
// Session correlation rides on charge metadata written by the storefront.
type StripeSource struct{}

// NewStripeSource creates a Stripe-backed commerce source with the given
// API key.
func NewStripeSource(apiKey string) *StripeSource {
	stripe.Key = apiKey
	return &StripeSource{}
}

// GetSales lists paid charges in the filter's time range and maps them to
// sales. Stripe cannot filter on metadata server-side, so session filtering
// happens here after the fetch.
func (s *StripeSource) GetSales(ctx context.Context, f Filter) ([]Sale, error) {
	params := &stripe.ChargeListParams{}
	params.Context = ctx
	if !f.From.IsZero() || !f.To.IsZero() {
		created := &stripe.RangeQueryParams{}
		if !f.From.IsZero() {
			created.GreaterThanOrEqual = f.From.Unix()
		}
		if !f.To.IsZero() {
			created.LesserThanOrEqual = f.To.Unix()
		}
		params.CreatedRange = created
	}

	wanted := make(map[string]struct{}, len(f.SessionIDs))
	for _, id := range f.SessionIDs {
		wanted[id] = struct{}{}
	}

	var sales []Sale
	iter := charge.List(params)
	for iter.Next() {
		c := iter.Charge()
		if !c.Paid {
			continue
		}

		sessionID := c.Metadata[metadataSessionID]
		if len(wanted) > 0 {
			if _, ok := wanted[sessionID]; !ok {
				continue
			}
		}

		sales = append(sales, Sale{
			ID:        c.ID,
			SessionID: sessionID,
			Amount:    float64(c.Amount) / 100,
			Currency:  string(c.Currency),
			FrameID:   c.Metadata[metadataFrameID],
			At:        time.Unix(c.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	return sales, nil
}
