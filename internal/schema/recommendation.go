package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
)

// Recommendation is one source's normalized advisory output for an
// instrument. Immutable once created; owned by the consensus engine for the
// duration of a single decision cycle.
type Recommendation struct {
	SourceID   string          `json:"source_id"`
	Instrument string          `json:"instrument"`
	Action     Action          `json:"action"`
	TargetSize decimal.Decimal `json:"target_size"` // fraction of portfolio equity
	Confidence float64         `json:"confidence"`  // [0,1]
	Rationale  string          `json:"rationale,omitempty"`
	ProducedAt time.Time       `json:"produced_at"`
}

// Validate checks the recommendation payload as delivered by a source
// adapter. A failing recommendation is treated as a non-response for the
// cycle, never as a cycle abort.
func (r Recommendation) Validate() error {
	if r.SourceID == "" {
		return errs.New("schema/recommendation", errs.CodeInvalid, errs.WithMessage("source id required"))
	}
	if err := ValidateInstrument(r.Instrument); err != nil {
		return err
	}
	if !r.Action.Valid() {
		return errs.New("schema/recommendation", errs.CodeInvalid,
			errs.WithSource(r.SourceID), errs.WithMessage("invalid action"))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return errs.New("schema/recommendation", errs.CodeInvalid,
			errs.WithSource(r.SourceID), errs.WithMessage("confidence outside [0,1]"))
	}
	if r.TargetSize.IsNegative() || r.TargetSize.GreaterThan(decimal.NewFromInt(1)) {
		return errs.New("schema/recommendation", errs.CodeInvalid,
			errs.WithSource(r.SourceID), errs.WithMessage("target size outside [0,1]"))
	}
	if r.Action != ActionHold && r.TargetSize.IsZero() {
		return errs.New("schema/recommendation", errs.CodeInvalid,
			errs.WithSource(r.SourceID), errs.WithMessage("non-hold recommendation requires target size"))
	}
	return nil
}
