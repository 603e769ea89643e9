package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/quorumlab/quorum/internal/schema"
)

// WeightTable is the versioned trust table for recommendation sources.
// Reads take an immutable snapshot; writes happen only through Apply,
// which bumps the version. A decide call therefore always scores against
// one consistent weight set.
type WeightTable struct {
	mu            sync.RWMutex
	rows          map[string]schema.SourceWeight
	version       uint64
	initialWeight float64
	alpha         float64
	now           func() time.Time
}

// WeightSnapshot is an immutable view of the table at one version.
type WeightSnapshot struct {
	Version uint64
	Weights map[string]float64
	initial float64
}

// Weight returns the weight for a source, falling back to the table's
// initial weight for sources never seen before.
func (s WeightSnapshot) Weight(sourceID string) float64 {
	if w, ok := s.Weights[sourceID]; ok {
		return w
	}
	return s.initial
}

// NewWeightTable creates a table seeding unknown sources at initialWeight
// and smoothing feedback by alpha.
func NewWeightTable(initialWeight, alpha float64) *WeightTable {
	return &WeightTable{
		rows:          make(map[string]schema.SourceWeight),
		initialWeight: initialWeight,
		alpha:         alpha,
		now:           time.Now,
	}
}

// Snapshot captures the current weights and version.
func (t *WeightTable) Snapshot() WeightSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	weights := make(map[string]float64, len(t.rows))
	for id, row := range t.rows {
		weights[id] = row.Weight
	}
	return WeightSnapshot{Version: t.version, Weights: weights, initial: t.initialWeight}
}

// Version returns the current table version.
func (t *WeightTable) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Apply folds one outcome-quality batch into the table:
// new = clamp(old + alpha * sign(quality), 0, 1). A zero quality leaves
// the row untouched. Returns the new version.
func (t *WeightTable) Apply(quality map[string]float64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	now := t.now()
	for sourceID, q := range quality {
		step := 0.0
		switch {
		case q > 0:
			step = t.alpha
		case q < 0:
			step = -t.alpha
		default:
			continue
		}
		row, ok := t.rows[sourceID]
		if !ok {
			row = schema.SourceWeight{SourceID: sourceID, Weight: t.initialWeight}
		}
		row.Weight = clamp01(row.Weight + step)
		row.LastUpdated = now
		t.rows[sourceID] = row
		changed = true
	}
	if changed {
		t.version++
	}
	return t.version
}

// Seed installs an explicit weight row, used at startup to restore
// persisted weights. Does not bump the version.
func (t *WeightTable) Seed(rows []schema.SourceWeight) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		row.Weight = clamp01(row.Weight)
		t.rows[row.SourceID] = row
	}
}

// Rows returns all rows sorted by source id, for the tuning query surface.
func (t *WeightTable) Rows() []schema.SourceWeight {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([]schema.SourceWeight, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SourceID < rows[j].SourceID })
	return rows
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
