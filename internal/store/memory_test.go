package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/internal/schema"
)

func TestMemoryStoreWeightsRoundTrip(t *testing.T) {
	s := NewMemoryStore(0)
	t.Cleanup(s.Close)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := s.SaveWeights(ctx, []schema.SourceWeight{
		{SourceID: "a", Weight: 0.6, LastUpdated: now},
		{SourceID: "b", Weight: 0.4, LastUpdated: now},
	})
	require.NoError(t, err)

	// Upsert semantics.
	err = s.SaveWeights(ctx, []schema.SourceWeight{{SourceID: "a", Weight: 0.7, LastUpdated: now}})
	require.NoError(t, err)

	rows, err := s.LoadWeights(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byID := map[string]float64{}
	for _, row := range rows {
		byID[row.SourceID] = row.Weight
	}
	require.InDelta(t, 0.7, byID["a"], 1e-9)
	require.InDelta(t, 0.4, byID["b"], 1e-9)
}

func TestMemoryStoreRecentOutcomesNewestFirst(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordOutcome(ctx, OutcomeRow{
			CycleID:          "cycle",
			OrderID:          string(rune('a' + i)),
			Status:           "filled",
			SlippageDeltaBps: decimal.Zero,
			RecordedAt:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	rows, err := s.RecentOutcomes(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "e", rows[0].OrderID)
	require.Equal(t, "c", rows[2].OrderID)
}

func TestMemoryStoreBoundsRetention(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordOutcome(ctx, OutcomeRow{OrderID: string(rune('a' + i))}))
	}
	rows, err := s.RecentOutcomes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
