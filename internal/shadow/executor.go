package shadow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/schema"
)

// Tolerances bound how far the simulated execution may deviate from the
// policy's expectation of a live execution before a parity component
// fails.
type Tolerances struct {
	ParityThreshold   float64
	PriceToleranceBps float64
	QtyTolerancePct   float64
	MaxBookAge        time.Duration
}

// Executor validates one approved verdict per call. Validation is re-run
// per decision; promotions are single-use and never survive into a later
// cycle.
type Executor struct {
	tolerances Tolerances
	now        func() time.Time
}

// NewExecutor builds the parity firewall.
func NewExecutor(tolerances Tolerances) *Executor {
	return &Executor{tolerances: tolerances, now: time.Now}
}

// Validate replays the approved size against the captured book and scores
// three parity components: price bounds, liquidity, and timing. The score
// is the fraction of components that match; only a score at or above the
// threshold grants a promotion. A nil promotion means the decision is
// discarded.
func (e *Executor) Validate(verdict schema.RiskVerdict, book schema.BookSnapshot) (schema.ShadowResult, *Promotion) {
	now := e.now()
	fill := Simulate(verdict.Action, verdict.ApprovedSize, book)

	result := schema.ShadowResult{
		CycleID:        verdict.CycleID,
		Instrument:     verdict.Instrument,
		Action:         verdict.Action,
		ApprovedSize:   verdict.ApprovedSize,
		FillPrice:      fill.AvgPrice,
		FillQty:        fill.FillQty,
		SlippageBps:    fill.SlippageBps,
		BookVenue:      book.Venue,
		BookCapturedAt: book.CapturedAt,
		ValidatedAt:    now,
	}

	var mismatches []string
	if !e.priceWithinBounds(fill) {
		mismatches = append(mismatches, schema.ParityPriceBounds)
	}
	if !e.liquidityCovered(verdict.ApprovedSize, fill) {
		mismatches = append(mismatches, schema.ParityLiquidity)
	}
	if !e.timingConsistent(book, now) {
		mismatches = append(mismatches, schema.ParityTiming)
	}

	const components = 3
	result.ParityScore = float64(components-len(mismatches)) / components
	result.Mismatches = mismatches
	result.Promoted = result.ParityScore >= e.tolerances.ParityThreshold

	if !result.Promoted {
		for _, mismatch := range mismatches {
			observability.Log().Info("shadow parity failed",
				observability.F("parity_score", result.ParityScore),
				observability.F("error", parityFailure(verdict, mismatch).Error()))
		}
		return result, nil
	}
	return result, newPromotion(result)
}

// priceWithinBounds checks the simulated slippage against the tolerance a
// live execution is expected to stay inside.
func (e *Executor) priceWithinBounds(fill SimulatedFill) bool {
	if !fill.AvgPrice.IsPositive() {
		return false
	}
	limit := decimal.NewFromFloat(e.tolerances.PriceToleranceBps)
	return fill.SlippageBps.Abs().LessThanOrEqual(limit)
}

// liquidityCovered checks the book held enough depth for the approved
// notional, within the quantity tolerance.
func (e *Executor) liquidityCovered(approved decimal.Decimal, fill SimulatedFill) bool {
	if fill.Exhausted || !fill.FillQty.IsPositive() {
		return false
	}
	filledNotional := fill.AvgPrice.Mul(fill.FillQty)
	shortfall := approved.Sub(filledNotional)
	if !shortfall.IsPositive() {
		return true
	}
	tolerance := approved.Mul(decimal.NewFromFloat(e.tolerances.QtyTolerancePct / 100))
	return shortfall.LessThanOrEqual(tolerance)
}

// timingConsistent rejects books captured in the future or older than the
// staleness bound.
func (e *Executor) timingConsistent(book schema.BookSnapshot, now time.Time) bool {
	if book.CapturedAt.IsZero() || book.CapturedAt.After(now) {
		return false
	}
	if e.tolerances.MaxBookAge <= 0 {
		return true
	}
	return now.Sub(book.CapturedAt) <= e.tolerances.MaxBookAge
}

// parityFailure wraps one mismatched parity component in the pipeline's
// error envelope.
func parityFailure(verdict schema.RiskVerdict, mismatch string) *errs.E {
	return errs.New("shadow", errs.CodeShadowParity,
		errs.WithInstrument(verdict.Instrument),
		errs.WithCycle(verdict.CycleID),
		errs.WithMetric(mismatch))
}
