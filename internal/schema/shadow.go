package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Parity component names reported on shadow validation failures.
const (
	ParityPriceBounds = "price_bounds"
	ParityLiquidity   = "liquidity"
	ParityTiming      = "timing"
)

// ShadowResult is the outcome of replaying an approved decision against the
// order book snapshot captured at decision time. A decision may proceed to
// live routing only while Promoted is true, and a result is valid for its
// own cycle only; stale promotions are never reused.
type ShadowResult struct {
	CycleID        string          `json:"cycle_id"`
	Instrument     string          `json:"instrument"`
	Action         Action          `json:"action"`
	ApprovedSize   decimal.Decimal `json:"approved_size"` // notional, quote currency
	FillPrice      decimal.Decimal `json:"simulated_fill_price"`
	FillQty        decimal.Decimal `json:"simulated_fill_qty"`
	SlippageBps    decimal.Decimal `json:"simulated_slippage_bps"`
	ParityScore    float64         `json:"parity_score"` // [0,1]
	Promoted       bool            `json:"promoted"`
	Mismatches     []string        `json:"mismatches,omitempty"` // parity component names that failed
	BookVenue      string          `json:"book_venue"`
	BookCapturedAt time.Time       `json:"book_captured_at"`
	ValidatedAt    time.Time       `json:"validated_at"`
}
