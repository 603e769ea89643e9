package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLimits() Limits {
	return Limits{
		MaxPositionFraction: 0.10,
		MaxVenueFraction:    0.25,
		MaxConcentration:    0.50,
		MaxDrawdownPct:      5.0,
	}
}

func cleanSnapshot() schema.PortfolioSnapshot {
	return schema.PortfolioSnapshot{
		SnapshotID:    "snap-1",
		Equity:        dec("100000"),
		VenueExposure: map[string]decimal.Decimal{},
		TakenAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func buyDecision(size string) schema.ConsensusDecision {
	return schema.ConsensusDecision{
		CycleID:             "cycle-1",
		Instrument:          "BTC-USDT",
		Action:              schema.ActionBuy,
		AggregateConfidence: 0.9,
		TargetSize:          dec(size),
	}
}

func TestEvaluateApprovesWithinCaps(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	v := g.Evaluate(buyDecision("0.05"), cleanSnapshot())
	require.True(t, v.Approved())
	require.False(t, v.Downsized())
	require.True(t, v.ApprovedSize.Equal(dec("5000")))
	require.Equal(t, "snap-1", v.SnapshotID)
}

func TestEvaluateHoldSkipsChecks(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	d := buyDecision("0.05")
	d.Action = schema.ActionHold
	v := g.Evaluate(d, cleanSnapshot())
	require.False(t, v.Approved())
	require.Empty(t, v.RejectionReason)
}

func TestEvaluatePositionCapDownsizes(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	snap := cleanSnapshot()
	snap.Positions = []schema.Position{
		{Instrument: "BTC-USDT", Quantity: dec("0.16"), AvgPrice: dec("50000"), Venue: "simx"},
	}
	// 8k open against a 10k cap leaves 2k of headroom.
	v := g.Evaluate(buyDecision("0.05"), snap)
	require.True(t, v.Approved())
	require.True(t, v.Downsized())
	require.True(t, v.ApprovedSize.Equal(dec("2000")), "approved %s", v.ApprovedSize)
}

func TestEvaluatePositionCapRejectsAtLimit(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	snap := cleanSnapshot()
	snap.Positions = []schema.Position{
		{Instrument: "BTC-USDT", Quantity: dec("0.2"), AvgPrice: dec("50000"), Venue: "simx"},
	}
	v := g.Evaluate(buyDecision("0.05"), snap)
	require.False(t, v.Approved())
	require.Equal(t, ReasonPositionCap, v.RejectionReason)
}

func TestEvaluateVenueCapShortCircuits(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	snap := cleanSnapshot()
	snap.VenueExposure["simx"] = dec("25000")
	v := g.Evaluate(buyDecision("0.05"), snap)
	require.False(t, v.Approved())
	require.Equal(t, ReasonVenueExposureCap, v.RejectionReason)
}

func TestEvaluateVenueCapUsesBestVenue(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx", "altx"}, 0)
	snap := cleanSnapshot()
	snap.VenueExposure["simx"] = dec("25000")
	// altx still has full headroom.
	v := g.Evaluate(buyDecision("0.05"), snap)
	require.True(t, v.Approved())
}

func TestEvaluateConcentrationCap(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx", "altx", "deepx"}, 0)
	snap := cleanSnapshot()
	snap.Positions = []schema.Position{
		{Instrument: "ETH-USDT", Quantity: dec("10"), AvgPrice: dec("2400"), Venue: "simx"},
		{Instrument: "SOL-USDT", Quantity: dec("100"), AvgPrice: dec("250"), Venue: "altx"},
	}
	// Open exposure 49k against a 50k cap leaves 1k.
	v := g.Evaluate(buyDecision("0.05"), snap)
	require.True(t, v.Downsized())
	require.True(t, v.ApprovedSize.Equal(dec("1000")), "approved %s", v.ApprovedSize)
}

func TestEvaluateDrawdownRejectsOutright(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	snap := cleanSnapshot()
	snap.DrawdownPct = 6.0

	d := buyDecision("0.05")
	d.AggregateConfidence = 1.0
	v := g.Evaluate(d, snap)
	require.False(t, v.Approved())
	require.Equal(t, ReasonDrawdownCap, v.RejectionReason)

	// Hold decisions pass through untouched.
	d.Action = schema.ActionHold
	v = g.Evaluate(d, snap)
	require.Empty(t, v.RejectionReason)
}

func TestRejectionEnvelopeNamesTrippedCap(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	snap := cleanSnapshot()
	snap.DrawdownPct = 6.0

	d := buyDecision("0.05")
	d.AggregateConfidence = 1.0
	v := g.Evaluate(d, snap)
	require.False(t, v.Approved())

	err := Rejection(v)
	require.True(t, errs.HasCode(err, errs.CodeRiskRejected))
	require.Equal(t, ReasonDrawdownCap, err.Metric)
	require.Equal(t, v.Instrument, err.Instrument)
	require.Equal(t, v.CycleID, err.CycleID)
}

func TestEvaluateIdempotentOnUnchangedSnapshot(t *testing.T) {
	g := NewGate(testLimits(), []string{"simx"}, 0)
	g.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	snap := cleanSnapshot()
	snap.Positions = []schema.Position{
		{Instrument: "BTC-USDT", Quantity: dec("0.1"), AvgPrice: dec("50000"), Venue: "simx"},
	}
	d := buyDecision("0.08")
	first := g.Evaluate(d, snap)
	second := g.Evaluate(d, snap)
	require.Equal(t, first, second)
}

func TestEvaluateCheckOrder(t *testing.T) {
	// Both the venue cap and drawdown are breached; the earlier check wins.
	g := NewGate(testLimits(), []string{"simx"}, 0)
	snap := cleanSnapshot()
	snap.VenueExposure["simx"] = dec("30000")
	snap.DrawdownPct = 10.0
	v := g.Evaluate(buyDecision("0.05"), snap)
	require.Equal(t, ReasonVenueExposureCap, v.RejectionReason)
}
