// Package pipeline runs the per-instrument decision loop: collect
// recommendations, form consensus, gate risk, validate in shadow, route
// promoted decisions, and fold execution outcomes back into weights and
// portfolio state.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/audit"
	"github.com/quorumlab/quorum/internal/collector"
	"github.com/quorumlab/quorum/internal/consensus"
	"github.com/quorumlab/quorum/internal/monitor"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/portfolio"
	"github.com/quorumlab/quorum/internal/risk"
	"github.com/quorumlab/quorum/internal/router"
	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/shadow"
	"github.com/quorumlab/quorum/internal/store"
	"github.com/quorumlab/quorum/internal/telemetry"
	"github.com/quorumlab/quorum/internal/venue"
)

// Deps bundles the stage components shared by every instrument instance.
// Collector, engine, gate, portfolio, monitor, and audit stream are
// process-wide; each instance owns only its own cycle bookkeeping.
type Deps struct {
	Collector *collector.Collector
	Engine    *consensus.Engine
	Gate      *risk.Gate
	Shadow    *shadow.Executor
	Router    *router.Router
	Monitor   *monitor.Monitor
	State     *portfolio.State
	Writer    *portfolio.Writer
	Audit     *audit.Stream
	Store     store.WeightStore
	Tracker   *venue.ReliabilityTracker
	Venues    map[string]venue.Adapter
	Metrics   *telemetry.Metrics

	// Interval paces consecutive cycles; PlaceMaxElapsed bounds retried
	// order placement for one request.
	Interval        time.Duration
	PlaceMaxElapsed time.Duration
}

// executionPayload pairs a terminal execution record with its outcome
// quality in the audit trail.
type executionPayload struct {
	Record  schema.ExecutionRecord `json:"record"`
	Quality float64                `json:"quality"`
}

// cycleFeedback remembers which sources voted on a committed cycle so
// terminal outcomes can be attributed back to them, plus how many of the
// cycle's orders are still open.
type cycleFeedback struct {
	action schema.Action
	votes  []schema.Vote
	open   int
}

// Instance is one instrument's pipeline. Cycles run sequentially; a new
// risk evaluation never starts while a prior cycle's outcome feedback is
// still in flight.
type Instance struct {
	instrument string
	deps       Deps
	halted     atomic.Bool
	inFlight   sync.WaitGroup
	now        func() time.Time

	mu        sync.Mutex
	committed string // cycle id of the most recently committed decision
	feedback  map[string]*cycleFeedback
}

// NewInstance builds the pipeline for one instrument.
func NewInstance(instrument string, deps Deps) *Instance {
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Second
	}
	if deps.PlaceMaxElapsed <= 0 {
		deps.PlaceMaxElapsed = 10 * time.Second
	}
	return &Instance{
		instrument: instrument,
		deps:       deps,
		now:        time.Now,
		feedback:   make(map[string]*cycleFeedback),
	}
}

// Instrument returns the instrument this instance trades.
func (i *Instance) Instrument() string { return i.instrument }

// Halted reports whether a fatal invariant violation stopped this
// instrument's loop. Other instruments are unaffected.
func (i *Instance) Halted() bool { return i.halted.Load() }

// Run drives cycles at the configured interval until ctx ends or the
// instance halts on an invariant violation. Every other failure is
// logged and the next cycle proceeds.
func (i *Instance) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.deps.Interval)
	defer ticker.Stop()
	for {
		if err := i.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errs.IsFatal(err) {
				i.halt(ctx, err)
				return err
			}
			observability.Log().Error("cycle failed",
				observability.F("instrument", i.instrument),
				observability.F("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full decision cycle. It returns an error only
// for failures that should surface to the loop; a hold decision, a risk
// rejection, or a failed parity check ends the cycle normally.
func (i *Instance) RunCycle(ctx context.Context) error {
	if i.halted.Load() {
		return errs.New("pipeline", errs.CodeUnavailable,
			errs.WithInstrument(i.instrument), errs.WithMessage("instance halted"))
	}

	started := i.now()
	i.deps.Metrics.CycleStarted(ctx, i.instrument)

	recs := i.deps.Collector.Collect(ctx, i.instrument)
	decision := i.deps.Engine.Decide(i.instrument, recs)
	i.markLatest(decision.CycleID)
	if err := i.deps.Audit.Publish(ctx, audit.KindDecision, decision.CycleID, i.instrument, decision); err != nil {
		i.logAuditFailure(err)
	}
	i.deps.Metrics.DecisionMade(ctx, i.instrument, string(decision.Action))

	if !decision.Actionable() {
		i.deps.Metrics.CycleDuration(ctx, i.instrument, i.now().Sub(started))
		return nil
	}

	// Outcome feedback from the previous committed cycle must be folded
	// into weights and exposure before this evaluation reads a snapshot.
	if err := i.waitInFlight(ctx); err != nil {
		return err
	}

	snapshot := i.deps.State.Snapshot()
	verdict := i.deps.Gate.Evaluate(decision, snapshot)
	if err := i.deps.Audit.Publish(ctx, audit.KindVerdict, decision.CycleID, i.instrument, verdict); err != nil {
		i.logAuditFailure(err)
	}
	if !verdict.Approved() {
		i.deps.Metrics.RiskRejected(ctx, i.instrument, verdict.RejectionReason)
		observability.Log().Info("decision rejected by risk gate",
			observability.F("instrument", i.instrument),
			observability.F("error", risk.Rejection(verdict).Error()))
		return nil
	}
	if verdict.Downsized() {
		observability.Log().Info("decision downsized by risk gate",
			observability.F("instrument", i.instrument),
			observability.F("cycle", decision.CycleID),
			observability.F("verdict", risk.Describe(verdict)))
	}

	quotes := i.venueQuotes()
	book, ok := decisionBook(decision.Action, quotes)
	if !ok {
		return errs.New("pipeline", errs.CodeUnavailable,
			errs.WithInstrument(i.instrument), errs.WithCycle(decision.CycleID),
			errs.WithMessage("no venue book available"))
	}

	result, promotion := i.deps.Shadow.Validate(verdict, book)
	if err := i.deps.Audit.Publish(ctx, audit.KindShadow, decision.CycleID, i.instrument, result); err != nil {
		i.logAuditFailure(err)
	}
	if promotion == nil {
		for _, mismatch := range result.Mismatches {
			i.deps.Metrics.ParityFailed(ctx, i.instrument, mismatch)
		}
		return nil
	}

	if !i.isLatest(decision.CycleID) {
		// A later decision committed while this one was validating; the
		// stale promotion is discarded unconsumed.
		observability.Log().Info("decision superseded before routing",
			observability.F("instrument", i.instrument),
			observability.F("cycle", decision.CycleID))
		return nil
	}

	if err := i.deps.Gate.ReserveThrottle(ctx); err != nil {
		return err
	}

	requests, err := i.deps.Router.Route(promotion, quotes)
	if err != nil {
		return err
	}

	i.commit(decision, len(requests))
	routedAt := i.now()
	for _, req := range requests {
		if err := i.holdForSlice(ctx, routedAt, req.Slice.NotBefore); err != nil {
			return err
		}
		i.placeOrder(ctx, req, result.FillPrice)
	}
	i.deps.Metrics.CycleDuration(ctx, i.instrument, i.now().Sub(started))
	return nil
}

// holdForSlice delays a paced slice until its offset from routing time
// has elapsed. Slices arrive ordered by offset, so each wait only covers
// the gap left after the previous placements.
func (i *Instance) holdForSlice(ctx context.Context, routedAt time.Time, notBefore time.Duration) error {
	wait := notBefore - i.now().Sub(routedAt)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// placeOrder registers the order with the monitor before placement so an
// ack that races the placement return is never dropped, then places with
// retry. A placement failure is left to the ack-timeout sweep, which
// rejects the order and releases its in-flight slot.
func (i *Instance) placeOrder(ctx context.Context, req schema.OrderRequest, expectedPrice decimal.Decimal) {
	i.deps.Monitor.Track(req, expectedPrice)
	i.inFlight.Add(1)
	if err := i.deps.Audit.Publish(ctx, audit.KindOrder, req.CycleID, req.Instrument, req); err != nil {
		i.logAuditFailure(err)
	}
	i.deps.Metrics.OrderRouted(ctx, req.Venue, string(req.OrderType))

	adapter, ok := i.deps.Venues[req.Venue]
	if !ok {
		observability.Log().Error("routed to unknown venue",
			observability.F("venue", req.Venue),
			observability.F("order", req.OrderID))
		return
	}
	if err := venue.PlaceWithRetry(ctx, adapter, req, i.deps.PlaceMaxElapsed); err != nil {
		observability.Log().Error("order placement failed",
			observability.F("venue", req.Venue),
			observability.F("order", req.OrderID),
			observability.F("error", err.Error()))
		if i.deps.Tracker != nil {
			i.deps.Tracker.Record(req.Venue, false)
		}
	}
}

// onOutcome folds one terminal execution outcome back into portfolio
// state, source weights, venue reliability, and the outcome archive, then
// releases the order's in-flight slot.
func (i *Instance) onOutcome(ctx context.Context, outcome monitor.Outcome) {
	record := outcome.Record
	defer i.inFlight.Done()

	if record.FilledQty.IsPositive() {
		err := i.deps.Writer.Apply(ctx, portfolio.Feedback{
			Instrument: record.Instrument,
			Venue:      record.Venue,
			Side:       record.Side,
			FilledQty:  record.FilledQty,
			AvgPrice:   record.AvgPrice,
		})
		if err != nil {
			observability.Log().Error("portfolio feedback failed",
				observability.F("order", record.OrderID),
				observability.F("error", err.Error()))
		}
	}

	quality := i.takeQuality(record.CycleID, outcome.Quality)
	if len(quality) > 0 {
		i.deps.Engine.Weights().Apply(quality)
		if i.deps.Store != nil {
			if err := i.deps.Store.SaveWeights(ctx, i.deps.Engine.Weights().Rows()); err != nil {
				observability.Log().Error("weight persistence failed",
					observability.F("error", err.Error()))
			}
		}
	}

	if i.deps.Tracker != nil {
		i.deps.Tracker.Record(record.Venue, record.Status == schema.ExecFilled)
	}
	if i.deps.Store != nil {
		row := store.OutcomeRow{
			CycleID:          record.CycleID,
			OrderID:          record.OrderID,
			Instrument:       record.Instrument,
			Venue:            record.Venue,
			Status:           string(record.Status),
			FillRatio:        outcome.FillRatio,
			SlippageDeltaBps: outcome.SlippageDeltaBps,
			Quality:          outcome.Quality,
			RecordedAt:       i.now(),
		}
		if err := i.deps.Store.RecordOutcome(ctx, row); err != nil {
			observability.Log().Error("outcome persistence failed",
				observability.F("order", record.OrderID),
				observability.F("error", err.Error()))
		}
	}

	payload := executionPayload{Record: record, Quality: outcome.Quality}
	if err := i.deps.Audit.Publish(ctx, audit.KindExecution, record.CycleID, record.Instrument, payload); err != nil {
		i.logAuditFailure(err)
	}
}

// takeQuality attributes one order outcome to the sources that voted on
// its cycle. Votes aligned with the executed action inherit the outcome
// quality; opposing votes inherit its negation. The cycle's bookkeeping
// is dropped once its last order terminates.
func (i *Instance) takeQuality(cycleID string, outcomeQuality float64) map[string]float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	fb, ok := i.feedback[cycleID]
	if !ok {
		return nil
	}
	quality := make(map[string]float64, len(fb.votes))
	for _, vote := range fb.votes {
		q := outcomeQuality
		if vote.Action != fb.action {
			q = -q
		}
		quality[vote.SourceID] = q
	}
	fb.open--
	if fb.open <= 0 {
		delete(i.feedback, cycleID)
	}
	return quality
}

func (i *Instance) commit(decision schema.ConsensusDecision, orders int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.committed = decision.CycleID
	i.feedback[decision.CycleID] = &cycleFeedback{
		action: decision.Action,
		votes:  decision.Contributors,
		open:   orders,
	}
}

func (i *Instance) markLatest(cycleID string) {
	i.mu.Lock()
	i.committed = cycleID
	i.mu.Unlock()
}

func (i *Instance) isLatest(cycleID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.committed == cycleID
}

// waitInFlight blocks until every outcome of the previously committed
// cycle has been applied, or ctx ends. The ack-timeout sweep guarantees
// every tracked order terminates.
func (i *Instance) waitInFlight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// venueQuotes snapshots every venue's book and health for the
// instrument, reliability overridden by the live tracker when present.
// Quotes are ordered by venue name so equal scores rank deterministically.
func (i *Instance) venueQuotes() []router.VenueQuote {
	quotes := make([]router.VenueQuote, 0, len(i.deps.Venues))
	for name, adapter := range i.deps.Venues {
		book, err := adapter.Book(i.instrument)
		if err != nil {
			observability.Log().Debug("venue book unavailable",
				observability.F("venue", name),
				observability.F("instrument", i.instrument),
				observability.F("error", err.Error()))
			continue
		}
		health := adapter.Health()
		reliability := health.Reliability
		healthy := health.Healthy
		if i.deps.Tracker != nil {
			reliability = i.deps.Tracker.Score(name)
			healthy = healthy && i.deps.Tracker.Healthy(name)
		}
		quotes = append(quotes, router.VenueQuote{
			Venue:       name,
			Book:        book,
			TakerFee:    health.TakerFee,
			LatencyMS:   health.LatencyMS,
			Reliability: reliability,
			Healthy:     healthy,
		})
	}
	sort.Slice(quotes, func(a, b int) bool { return quotes[a].Venue < quotes[b].Venue })
	return quotes
}

// decisionBook picks the healthy book with the most resting liquidity on
// the side the decision would take.
func decisionBook(side schema.Action, quotes []router.VenueQuote) (schema.BookSnapshot, bool) {
	best := schema.BookSnapshot{}
	bestDepth := decimal.Decimal{}
	found := false
	for _, quote := range quotes {
		if !quote.Healthy {
			continue
		}
		depth := quote.Book.DepthQuote(side)
		if !found || depth.GreaterThan(bestDepth) {
			best = quote.Book
			bestDepth = depth
			found = true
		}
	}
	return best, found
}

func (i *Instance) halt(ctx context.Context, cause error) {
	i.halted.Store(true)
	observability.Log().Error("pipeline halted on invariant violation",
		observability.F("instrument", i.instrument),
		observability.F("error", cause.Error()))
	payload := struct {
		Error string `json:"error"`
	}{cause.Error()}
	if err := i.deps.Audit.Publish(ctx, audit.KindHalt, i.lastCommitted(), i.instrument, payload); err != nil {
		i.logAuditFailure(err)
	}
}

func (i *Instance) lastCommitted() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.committed
}

func (i *Instance) logAuditFailure(err error) {
	observability.Log().Error("audit publish failed",
		observability.F("instrument", i.instrument),
		observability.F("error", err.Error()))
}
