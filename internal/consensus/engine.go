// Package consensus turns a cycle's recommendations into one authorized
// decision via weighted voting with a confidence gate.
package consensus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/internal/schema"
)

// Engine scores recommendations against a weight snapshot. Decide is a
// pure function of its inputs plus the clock, so replays with the same
// snapshot reproduce the same decision.
type Engine struct {
	threshold float64
	weights   *WeightTable
	now       func() time.Time
	newCycle  func() string
}

// NewEngine builds an engine gating non-hold decisions at threshold.
func NewEngine(threshold float64, weights *WeightTable) *Engine {
	return &Engine{
		threshold: threshold,
		weights:   weights,
		now:       time.Now,
		newCycle:  func() string { return uuid.NewString() },
	}
}

// Weights exposes the engine's trust table for the feedback loop and the
// tuning query surface.
func (e *Engine) Weights() *WeightTable { return e.weights }

// Decide aggregates one cycle's recommendations for an instrument.
//
// Each action's score is the sum of weight x confidence over the
// recommendations proposing it, normalized by the total weight of all
// responders so low participation reads as low conviction. Ties resolve
// to hold, and a winning non-hold action below the confidence threshold
// is downgraded to hold. Zero responders yield hold with confidence 0.
func (e *Engine) Decide(instrument string, recs []schema.Recommendation) schema.ConsensusDecision {
	snapshot := e.weights.Snapshot()
	decision := schema.ConsensusDecision{
		CycleID:       e.newCycle(),
		Instrument:    instrument,
		Action:        schema.ActionHold,
		WeightVersion: snapshot.Version,
		DecidedAt:     e.now(),
	}
	if len(recs) == 0 {
		return decision
	}

	scores := map[schema.Action]float64{}
	totalWeight := 0.0
	votes := make([]schema.Vote, 0, len(recs))
	for _, rec := range recs {
		w := snapshot.Weight(rec.SourceID)
		totalWeight += w
		scores[rec.Action] += w * rec.Confidence
		votes = append(votes, schema.Vote{
			SourceID:   rec.SourceID,
			Action:     rec.Action,
			Weight:     w,
			Confidence: rec.Confidence,
		})
	}
	decision.Contributors = votes
	if totalWeight <= 0 {
		return decision
	}

	holdScore := scores[schema.ActionHold] / totalWeight
	buyScore := scores[schema.ActionBuy] / totalWeight
	sellScore := scores[schema.ActionSell] / totalWeight

	winner, winning := schema.ActionHold, holdScore
	switch {
	case buyScore > sellScore && buyScore > holdScore:
		winner, winning = schema.ActionBuy, buyScore
	case sellScore > buyScore && sellScore > holdScore:
		winner, winning = schema.ActionSell, sellScore
	case buyScore == sellScore && buyScore > holdScore:
		// Tied directional votes resolve to hold.
		winning = buyScore
	}

	decision.AggregateConfidence = winning
	if winner == schema.ActionHold {
		return decision
	}
	if winning < e.threshold {
		// Confidence gating beats raw vote count.
		return decision
	}
	decision.Action = winner
	decision.TargetSize = targetSizeFor(winner, recs, snapshot)
	return decision
}

// targetSizeFor blends the winning contributors' target sizes, weighted
// by weight x confidence.
func targetSizeFor(action schema.Action, recs []schema.Recommendation, snapshot WeightSnapshot) decimal.Decimal {
	weighted := decimal.Zero
	mass := decimal.Zero
	for _, rec := range recs {
		if rec.Action != action {
			continue
		}
		share := decimal.NewFromFloat(snapshot.Weight(rec.SourceID) * rec.Confidence)
		weighted = weighted.Add(rec.TargetSize.Mul(share))
		mass = mass.Add(share)
	}
	if mass.IsZero() {
		return decimal.Zero
	}
	return weighted.DivRound(mass, 8)
}
