package store

import (
	"context"
	"sync"

	"github.com/quorumlab/quorum/internal/schema"
)

// MemoryStore keeps weights and outcomes in process. Outcome retention
// is bounded.
type MemoryStore struct {
	mu       sync.RWMutex
	weights  map[string]schema.SourceWeight
	outcomes []OutcomeRow
	limit    int
}

// NewMemoryStore retains up to limit outcome rows.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 4096
	}
	return &MemoryStore{
		weights: make(map[string]schema.SourceWeight),
		limit:   limit,
	}
}

func (s *MemoryStore) LoadWeights(context.Context) ([]schema.SourceWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]schema.SourceWeight, 0, len(s.weights))
	for _, row := range s.weights {
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *MemoryStore) SaveWeights(_ context.Context, rows []schema.SourceWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.weights[row.SourceID] = row
	}
	return nil
}

func (s *MemoryStore) RecordOutcome(_ context.Context, row OutcomeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, row)
	if len(s.outcomes) > s.limit {
		s.outcomes = s.outcomes[len(s.outcomes)-s.limit:]
	}
	return nil
}

// RecentOutcomes returns the newest rows first.
func (s *MemoryStore) RecentOutcomes(_ context.Context, limit int) ([]OutcomeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.outcomes)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]OutcomeRow, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.outcomes[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() {}
