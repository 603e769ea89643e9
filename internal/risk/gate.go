// Package risk validates consensus decisions against portfolio-level
// constraints before anything reaches the execution path.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
)

// Rejection reasons carried on the verdict.
const (
	ReasonPositionCap      = "position_cap"
	ReasonVenueExposureCap = "venue_exposure_cap"
	ReasonConcentrationCap = "concentration_cap"
	ReasonDrawdownCap      = "drawdown_cap"
)

// Limits are the gate's configured caps. Fractions are of portfolio
// equity; drawdown is percent.
type Limits struct {
	MaxPositionFraction float64
	MaxVenueFraction    float64
	MaxConcentration    float64
	MaxDrawdownPct      float64
}

// Gate evaluates decisions against an immutable portfolio snapshot.
// Evaluate is a pure function of (decision, snapshot), so re-running it
// on unchanged inputs reproduces the verdict. The order throttle is
// deliberately outside Evaluate; callers reserve capacity separately.
type Gate struct {
	limits   Limits
	venues   []string
	throttle *rate.Limiter
	now      func() time.Time
}

// NewGate builds a gate over the configured venue set. throttlePerSec
// caps downstream order placement; zero disables the throttle.
func NewGate(limits Limits, venues []string, throttlePerSec float64) *Gate {
	var throttle *rate.Limiter
	if throttlePerSec > 0 {
		throttle = rate.NewLimiter(rate.Limit(throttlePerSec), 1)
	}
	return &Gate{
		limits:   limits,
		venues:   venues,
		throttle: throttle,
		now:      time.Now,
	}
}

// ReserveThrottle blocks until an order-placement slot is available.
func (g *Gate) ReserveThrottle(ctx context.Context) error {
	if g.throttle == nil {
		return nil
	}
	return g.throttle.Wait(ctx)
}

// Evaluate runs the cap checks in order, short-circuiting on the first
// outright failure: position cap, venue exposure cap, concentration cap,
// then trailing drawdown. The first three may downsize instead of
// rejecting; downsizing to zero is a rejection. Drawdown rejects every
// non-hold decision outright regardless of confidence.
func (g *Gate) Evaluate(decision schema.ConsensusDecision, snapshot schema.PortfolioSnapshot) schema.RiskVerdict {
	verdict := schema.RiskVerdict{
		CycleID:     decision.CycleID,
		Instrument:  decision.Instrument,
		Action:      decision.Action,
		SnapshotID:  snapshot.SnapshotID,
		EvaluatedAt: g.now(),
	}
	if !decision.Actionable() {
		return verdict
	}

	requested := decision.TargetSize.Mul(snapshot.Equity)
	verdict.RequestedSize = requested
	if !requested.IsPositive() {
		verdict.RejectionReason = ReasonPositionCap
		return verdict
	}
	approved := requested

	// (a) position-size cap against the instrument's open notional.
	positionLimit := fractionOf(snapshot.Equity, g.limits.MaxPositionFraction)
	open := decimal.Zero
	for _, pos := range snapshot.Positions {
		if pos.Instrument == decision.Instrument {
			open = open.Add(pos.Notional())
		}
	}
	headroom := positionLimit.Sub(open)
	if !headroom.IsPositive() {
		verdict.RejectionReason = ReasonPositionCap
		return verdict
	}
	approved = decimal.Min(approved, headroom)

	// (b) per-venue exposure cap; the router may use any venue with room.
	venueLimit := fractionOf(snapshot.Equity, g.limits.MaxVenueFraction)
	venueHeadroom := decimal.Zero
	for _, venue := range g.venues {
		room := venueLimit.Sub(exposureOf(snapshot, venue))
		if room.GreaterThan(venueHeadroom) {
			venueHeadroom = room
		}
	}
	if !venueHeadroom.IsPositive() {
		verdict.RejectionReason = ReasonVenueExposureCap
		return verdict
	}
	approved = decimal.Min(approved, venueHeadroom)

	// (c) aggregate concentration cap across all open positions.
	concentrationLimit := fractionOf(snapshot.Equity, g.limits.MaxConcentration)
	concentrationHeadroom := concentrationLimit.Sub(snapshot.OpenExposure())
	if !concentrationHeadroom.IsPositive() {
		verdict.RejectionReason = ReasonConcentrationCap
		return verdict
	}
	approved = decimal.Min(approved, concentrationHeadroom)

	// (d) trailing drawdown cap. No downsizing here.
	if g.limits.MaxDrawdownPct > 0 && snapshot.DrawdownPct > g.limits.MaxDrawdownPct {
		verdict.RejectionReason = ReasonDrawdownCap
		return verdict
	}

	verdict.ApprovedSize = approved
	return verdict
}

func fractionOf(equity decimal.Decimal, fraction float64) decimal.Decimal {
	return equity.Mul(decimal.NewFromFloat(fraction))
}

func exposureOf(snapshot schema.PortfolioSnapshot, venue string) decimal.Decimal {
	if v, ok := snapshot.VenueExposure[venue]; ok {
		return v
	}
	return decimal.Zero
}

// Describe renders a verdict for the audit stream.
func Describe(v schema.RiskVerdict) string {
	if v.Approved() {
		if v.Downsized() {
			return fmt.Sprintf("approved downsized %s of %s", v.ApprovedSize, v.RequestedSize)
		}
		return fmt.Sprintf("approved %s", v.ApprovedSize)
	}
	return fmt.Sprintf("rejected: %s", v.RejectionReason)
}

// Rejection wraps a rejecting verdict in the pipeline's error envelope,
// naming the cap that tripped.
func Rejection(v schema.RiskVerdict) *errs.E {
	return errs.New("risk", errs.CodeRiskRejected,
		errs.WithInstrument(v.Instrument),
		errs.WithCycle(v.CycleID),
		errs.WithMetric(v.RejectionReason),
		errs.WithMessage(Describe(v)))
}
