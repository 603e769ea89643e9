package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vote records one source's contribution to a consensus decision.
type Vote struct {
	SourceID   string  `json:"source_id"`
	Action     Action  `json:"action"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
}

// ConsensusDecision is the single authorized action for an instrument
// produced by one consensus cycle. AggregateConfidence is a deterministic
// function of the contributing recommendations and the weight table version
// in force when the cycle started.
type ConsensusDecision struct {
	CycleID             string          `json:"cycle_id"`
	Instrument          string          `json:"instrument"`
	Action              Action          `json:"action"`
	AggregateConfidence float64         `json:"aggregate_confidence"`
	TargetSize          decimal.Decimal `json:"target_size"`
	Contributors        []Vote          `json:"contributors"`
	WeightVersion       uint64          `json:"weight_version"`
	DecidedAt           time.Time       `json:"decided_at"`
}

// Actionable reports whether the decision proposes a position change.
// Hold decisions terminate the cycle without a risk evaluation.
func (d ConsensusDecision) Actionable() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

// SourceWeight is one row of the versioned trust table. Rows mutate only
// through the outcome feedback loop between cycles, never mid-cycle.
type SourceWeight struct {
	SourceID    string    `json:"source_id"`
	Weight      float64   `json:"weight"` // [0,1]
	LastUpdated time.Time `json:"last_updated"`
}
