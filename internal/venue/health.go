package venue

import "sync"

// ReliabilityTracker maintains a smoothed success rate per venue, fed by
// the execution monitor's terminal outcomes and consumed by the router's
// venue ranking.
type ReliabilityTracker struct {
	mu     sync.RWMutex
	scores map[string]float64
	alpha  float64
	floor  float64 // below this the venue reads as unhealthy
}

// NewReliabilityTracker smooths outcomes by alpha and flags venues
// unhealthy under floor. New venues start at full reliability.
func NewReliabilityTracker(alpha, floor float64) *ReliabilityTracker {
	return &ReliabilityTracker{
		scores: make(map[string]float64),
		alpha:  alpha,
		floor:  floor,
	}
}

// Record folds one terminal outcome into the venue's score.
func (t *ReliabilityTracker) Record(venue string, success bool) {
	sample := 0.0
	if success {
		sample = 1.0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	score, ok := t.scores[venue]
	if !ok {
		score = 1.0
	}
	t.scores[venue] = score*(1-t.alpha) + sample*t.alpha
}

// Score returns the venue's smoothed success rate.
func (t *ReliabilityTracker) Score(venue string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if score, ok := t.scores[venue]; ok {
		return score
	}
	return 1.0
}

// Healthy reports whether the venue's score clears the floor.
func (t *ReliabilityTracker) Healthy(venue string) bool {
	return t.Score(venue) >= t.floor
}
