package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one open holding in the portfolio.
type Position struct {
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Venue      string          `json:"venue"`
}

// Notional returns the position's current value at its average price.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.AvgPrice)
}

// PortfolioSnapshot is the consistent, point-in-time view of portfolio
// state the risk gate evaluates against. Taken atomically; a concurrent fill
// never changes a snapshot already handed out.
type PortfolioSnapshot struct {
	SnapshotID    string                     `json:"snapshot_id"`
	Equity        decimal.Decimal            `json:"equity"`
	Positions     []Position                 `json:"positions"`
	VenueExposure map[string]decimal.Decimal `json:"venue_exposure"`
	DrawdownPct   float64                    `json:"drawdown_pct"` // trailing realized drawdown, percent
	TakenAt       time.Time                  `json:"taken_at"`
}

// OpenExposure sums the notional value of all open positions.
func (s PortfolioSnapshot) OpenExposure() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range s.Positions {
		total = total.Add(pos.Notional())
	}
	return total
}

// RiskVerdict is the risk gate's ruling on one consensus decision. Created
// once per decision; immutable. A zero ApprovedSize is equivalent to
// rejection.
type RiskVerdict struct {
	CycleID         string          `json:"cycle_id"`
	Instrument      string          `json:"instrument"`
	Action          Action          `json:"action"`
	RequestedSize   decimal.Decimal `json:"requested_size"` // notional, quote currency
	ApprovedSize    decimal.Decimal `json:"approved_size"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	SnapshotID      string          `json:"snapshot_id"`
	EvaluatedAt     time.Time       `json:"evaluated_at"`
}

// Approved reports whether any size survived the gate.
func (v RiskVerdict) Approved() bool {
	return v.RejectionReason == "" && v.ApprovedSize.IsPositive()
}

// Downsized reports whether the gate reduced the requested size without
// rejecting outright.
func (v RiskVerdict) Downsized() bool {
	return v.Approved() && v.ApprovedSize.LessThan(v.RequestedSize)
}
