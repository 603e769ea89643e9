package consensus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/internal/schema"
)

func newTestEngine(threshold float64) *Engine {
	e := NewEngine(threshold, NewWeightTable(0.33, 0.05))
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	e.newCycle = func() string { return "cycle-1" }
	return e
}

func vote(id string, action schema.Action, confidence float64) schema.Recommendation {
	r := schema.Recommendation{
		SourceID:   id,
		Instrument: "BTC-USDT",
		Action:     action,
		Confidence: confidence,
	}
	if action != schema.ActionHold {
		r.TargetSize = decimal.RequireFromString("0.05")
	}
	return r
}

func TestDecideZeroRespondersYieldsHoldZero(t *testing.T) {
	e := newTestEngine(0.75)
	d := e.Decide("BTC-USDT", nil)
	require.Equal(t, schema.ActionHold, d.Action)
	require.Zero(t, d.AggregateConfidence)
	require.Empty(t, d.Contributors)
}

func TestDecideUnanimousBuy(t *testing.T) {
	e := newTestEngine(0.75)
	d := e.Decide("BTC-USDT", []schema.Recommendation{
		vote("a", schema.ActionBuy, 0.9),
		vote("b", schema.ActionBuy, 0.8),
		vote("c", schema.ActionBuy, 0.95),
	})
	require.Equal(t, schema.ActionBuy, d.Action)
	require.InDelta(t, (0.9+0.8+0.95)/3, d.AggregateConfidence, 1e-9)
	require.Len(t, d.Contributors, 3)
	require.True(t, d.TargetSize.IsPositive())
}

func TestDecideLowConsensusDowngradesToHold(t *testing.T) {
	e := newTestEngine(0.75)
	d := e.Decide("BTC-USDT", []schema.Recommendation{
		vote("a", schema.ActionBuy, 0.6),
		vote("b", schema.ActionBuy, 0.5),
		vote("c", schema.ActionSell, 0.9),
	})
	// buy wins the vote at (0.6+0.5)/3 ~ 0.367 but stays under the gate.
	require.Equal(t, schema.ActionHold, d.Action)
	require.InDelta(t, (0.6+0.5)/3, d.AggregateConfidence, 1e-9)
	require.True(t, d.TargetSize.IsZero())
}

func TestDecideDirectionalTieResolvesToHold(t *testing.T) {
	e := newTestEngine(0.5)
	d := e.Decide("BTC-USDT", []schema.Recommendation{
		vote("a", schema.ActionBuy, 0.9),
		vote("b", schema.ActionSell, 0.9),
	})
	require.Equal(t, schema.ActionHold, d.Action)
}

func TestDecideNonRespondersDiluteScore(t *testing.T) {
	table := NewWeightTable(0.5, 0.05)
	table.Seed([]schema.SourceWeight{
		{SourceID: "a", Weight: 0.5},
		{SourceID: "b", Weight: 0.5},
	})
	e := NewEngine(0.75, table)

	full := e.Decide("BTC-USDT", []schema.Recommendation{
		vote("a", schema.ActionBuy, 0.9),
		vote("b", schema.ActionBuy, 0.9),
	})
	require.Equal(t, schema.ActionBuy, full.Action)

	// Same buy mass but a third responder on hold dilutes the normalizer.
	diluted := e.Decide("BTC-USDT", []schema.Recommendation{
		vote("a", schema.ActionBuy, 0.9),
		vote("b", schema.ActionBuy, 0.9),
		vote("c", schema.ActionHold, 0.9),
	})
	require.Less(t, diluted.AggregateConfidence, full.AggregateConfidence)
}

func TestDecideMonotonicInConfidence(t *testing.T) {
	e := newTestEngine(0.99)
	base := []schema.Recommendation{
		vote("a", schema.ActionBuy, 0.4),
		vote("b", schema.ActionSell, 0.6),
	}
	prev := -1.0
	for conf := 0.1; conf <= 1.0; conf += 0.1 {
		recs := append([]schema.Recommendation(nil), base...)
		recs[0].Confidence = conf
		d := e.Decide("BTC-USDT", recs)
		score := buyScoreOf(d)
		require.GreaterOrEqual(t, score, prev, "confidence %.1f", conf)
		prev = score
	}
}

func buyScoreOf(d schema.ConsensusDecision) float64 {
	total, buy := 0.0, 0.0
	for _, v := range d.Contributors {
		total += v.Weight
		if v.Action == schema.ActionBuy {
			buy += v.Weight * v.Confidence
		}
	}
	if total == 0 {
		return 0
	}
	return buy / total
}

func TestDecideGateHoldsOverVoteCount(t *testing.T) {
	e := newTestEngine(0.75)
	for conf := 0.0; conf <= 1.0; conf += 0.05 {
		d := e.Decide("BTC-USDT", []schema.Recommendation{
			vote("a", schema.ActionBuy, conf),
			vote("b", schema.ActionBuy, conf),
		})
		if d.Action != schema.ActionHold {
			require.GreaterOrEqual(t, d.AggregateConfidence, 0.75)
		}
	}
}

func TestWeightTableApplySmoothing(t *testing.T) {
	table := NewWeightTable(0.5, 0.05)
	table.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	v1 := table.Apply(map[string]float64{"a": 1.0, "b": -0.4, "c": 0})
	require.Equal(t, uint64(1), v1)

	snap := table.Snapshot()
	require.InDelta(t, 0.55, snap.Weight("a"), 1e-9)
	require.InDelta(t, 0.45, snap.Weight("b"), 1e-9)
	require.InDelta(t, 0.5, snap.Weight("c"), 1e-9) // zero quality leaves row at initial

	// Clamp at the boundaries.
	for i := 0; i < 30; i++ {
		table.Apply(map[string]float64{"a": 1, "b": -1})
	}
	snap = table.Snapshot()
	require.InDelta(t, 1.0, snap.Weight("a"), 1e-9)
	require.InDelta(t, 0.0, snap.Weight("b"), 1e-9)
}

func TestWeightTableSnapshotIsolatedFromApply(t *testing.T) {
	table := NewWeightTable(0.5, 0.1)
	before := table.Snapshot()
	table.Apply(map[string]float64{"a": 1})
	require.InDelta(t, 0.5, before.Weight("a"), 1e-9)
	require.NotEqual(t, before.Version, table.Version())
}

func TestWeightTableRowsSorted(t *testing.T) {
	table := NewWeightTable(0.5, 0.1)
	table.Apply(map[string]float64{"zulu": 1, "alpha": -1, "mike": 1})
	rows := table.Rows()
	require.Len(t, rows, 3)
	require.Equal(t, "alpha", rows[0].SourceID)
	require.Equal(t, "zulu", rows[2].SourceID)
}
