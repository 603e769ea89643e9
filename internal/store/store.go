// Package store persists source weights and outcome-quality history for
// restart continuity and the external tuning surface.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/internal/schema"
)

// OutcomeRow is one archived terminal execution outcome.
type OutcomeRow struct {
	CycleID          string          `json:"cycle_id"`
	OrderID          string          `json:"order_id"`
	Instrument       string          `json:"instrument"`
	Venue            string          `json:"venue"`
	Status           string          `json:"status"`
	FillRatio        float64         `json:"fill_ratio"`
	SlippageDeltaBps decimal.Decimal `json:"slippage_delta_bps"`
	Quality          float64         `json:"quality"`
	RecordedAt       time.Time       `json:"recorded_at"`
}

// WeightStore persists the trust table and outcome history. The in-memory
// implementation backs single-process runs; Postgres backs everything
// else.
type WeightStore interface {
	LoadWeights(ctx context.Context) ([]schema.SourceWeight, error)
	SaveWeights(ctx context.Context, rows []schema.SourceWeight) error
	RecordOutcome(ctx context.Context, row OutcomeRow) error
	RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRow, error)
	Close()
}
