// Package collector fans a cycle's advisory request out to every
// registered source and gathers the responses that beat the deadline.
package collector

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/source"
	"github.com/quorumlab/quorum/internal/telemetry"
)

// Collector queries all sources in parallel under one deadline. A source
// that errors, times out, or returns an invalid payload is excluded from
// the cycle; the cycle itself never aborts on source failure.
type Collector struct {
	sources    []source.Source
	deadline   time.Duration
	maxWorkers int
	metrics    *telemetry.Metrics
}

// New constructs a collector over the given sources.
func New(sources []source.Source, deadline time.Duration, maxWorkers int, metrics *telemetry.Metrics) *Collector {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	return &Collector{
		sources:    sources,
		deadline:   deadline,
		maxWorkers: maxWorkers,
		metrics:    metrics,
	}
}

// SourceIDs returns the ids of every registered source, in order.
func (c *Collector) SourceIDs() []string {
	ids := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		ids = append(ids, src.ID())
	}
	return ids
}

// Collect gathers recommendations for one instrument. The returned slice
// preserves source registration order and contains only validated
// responses; len(result) may be anywhere from 0 to len(sources).
func (c *Collector) Collect(ctx context.Context, instrument string) []schema.Recommendation {
	if len(c.sources) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	workerLimit := c.maxWorkers
	if workerLimit > len(c.sources) {
		workerLimit = len(c.sources)
	}

	results := make([]*schema.Recommendation, len(c.sources))
	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(workerLimit)
	for idx, src := range c.sources {
		i, s := idx, src
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					observability.Log().Error("source panicked",
						observability.F("source", s.ID()),
						observability.F("instrument", instrument),
						observability.F("panic", r))
				}
			}()
			start := time.Now()
			rec, err := s.Advise(ctx, instrument)
			c.metrics.AdviseLatency(ctx, s.ID(), time.Since(start))
			if err != nil {
				c.reportMiss(s.ID(), instrument, err)
				return
			}
			if err := rec.Validate(); err != nil {
				c.reportMiss(s.ID(), instrument, err)
				return
			}
			if rec.Instrument != instrument {
				c.reportMiss(s.ID(), instrument, errs.New("collector", errs.CodeInvalid,
					errs.WithSource(s.ID()), errs.WithMessage("response for wrong instrument "+rec.Instrument)))
				return
			}
			mu.Lock()
			results[i] = &rec
			mu.Unlock()
		})
	}
	p.Wait()

	collected := make([]schema.Recommendation, 0, len(c.sources))
	for _, rec := range results {
		if rec != nil {
			collected = append(collected, *rec)
		}
	}
	return collected
}

func (c *Collector) reportMiss(sourceID, instrument string, err error) {
	observability.Log().Info("source excluded from cycle",
		observability.F("source", sourceID),
		observability.F("instrument", instrument),
		observability.F("error", err.Error()))
}

// Close shuts every source down, returning the first failure.
func (c *Collector) Close() error {
	var first error
	for _, src := range c.sources {
		if err := src.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
