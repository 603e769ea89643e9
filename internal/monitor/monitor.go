// Package monitor tracks order lifecycles and turns terminal outcomes
// into feedback for source weights and portfolio exposure.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/telemetry"
)

// Canceler is the slice of the venue adapter the monitor needs to
// revoke unacknowledged orders.
type Canceler interface {
	Cancel(ctx context.Context, orderID string) error
}

// Outcome is the terminal result of one order lifecycle, with the
// quality signal consumed by the weight and exposure feedback edges.
type Outcome struct {
	Record           schema.ExecutionRecord
	FillRatio        float64
	SlippageDeltaBps decimal.Decimal // realized minus shadow-predicted
	Quality          float64         // sign drives the weight update
}

type trackedOrder struct {
	request       schema.OrderRequest
	expectedPrice decimal.Decimal
	record        schema.ExecutionRecord
	acked         bool
	placedAt      time.Time
	notional      decimal.Decimal
}

// Monitor consumes venue events and drives each order through
// acked -> {partial, filled, canceled, rejected} with
// partial -> {partial, filled, canceled}. Orders unacknowledged past the
// ack timeout are treated as rejected and canceled at the venue.
type Monitor struct {
	mu          sync.Mutex
	orders      map[string]*trackedOrder
	subscribers []func(Outcome)
	cancelers   map[string]Canceler

	ackTimeout    time.Duration
	sweepInterval time.Duration
	metrics       *telemetry.Metrics
	now           func() time.Time
}

// New builds a monitor with the given ack timeout and sweep cadence.
func New(ackTimeout, sweepInterval time.Duration, metrics *telemetry.Metrics) *Monitor {
	return &Monitor{
		orders:        make(map[string]*trackedOrder),
		cancelers:     make(map[string]Canceler),
		ackTimeout:    ackTimeout,
		sweepInterval: sweepInterval,
		metrics:       metrics,
		now:           time.Now,
	}
}

// RegisterVenue installs the cancel path for a venue.
func (m *Monitor) RegisterVenue(name string, canceler Canceler) {
	m.mu.Lock()
	m.cancelers[name] = canceler
	m.mu.Unlock()
}

// Subscribe registers a callback invoked on every terminal outcome.
func (m *Monitor) Subscribe(callback func(Outcome)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, callback)
	m.mu.Unlock()
}

// Track registers a placed order before its ack arrives. expectedPrice
// is the shadow-predicted fill price used for the slippage delta.
func (m *Monitor) Track(req schema.OrderRequest, expectedPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[req.OrderID] = &trackedOrder{
		request:       req,
		expectedPrice: expectedPrice,
		placedAt:      m.now(),
		record: schema.ExecutionRecord{
			OrderID:    req.OrderID,
			CycleID:    req.CycleID,
			Venue:      req.Venue,
			Instrument: req.Instrument,
			Side:       req.Side,
		},
	}
}

// Pending reports how many tracked orders have not reached a terminal
// state yet.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// OnVenueEvent applies one venue event to its order's state machine and
// returns the updated record. Events for unknown orders and transitions
// the state machine forbids are dropped.
func (m *Monitor) OnVenueEvent(evt schema.VenueEvent) (schema.ExecutionRecord, error) {
	m.mu.Lock()
	tracked, ok := m.orders[evt.OrderID]
	if !ok {
		m.mu.Unlock()
		return schema.ExecutionRecord{}, errs.New("monitor", errs.CodeInvalid,
			errs.WithVenue(evt.Venue), errs.WithMessage("event for unknown order "+evt.OrderID))
	}

	if !tracked.acked {
		if evt.Status != schema.ExecAcked {
			m.mu.Unlock()
			return tracked.record, errs.New("monitor", errs.CodeInvalid,
				errs.WithVenue(evt.Venue), errs.WithMessage("event before ack: "+string(evt.Status)))
		}
		tracked.acked = true
		tracked.record.Status = schema.ExecAcked
		tracked.record.UpdatedAt = evt.At
		record := tracked.record
		m.mu.Unlock()
		m.metrics.VenueEvent(context.Background(), evt.Venue, string(evt.Status))
		return record, nil
	}

	if !tracked.record.Status.CanTransition(evt.Status) {
		m.mu.Unlock()
		return tracked.record, errs.New("monitor", errs.CodeInvalid,
			errs.WithVenue(evt.Venue),
			errs.WithMessage("illegal transition "+string(tracked.record.Status)+" -> "+string(evt.Status)))
	}

	if evt.FillQty.IsPositive() {
		prevNotional := tracked.notional
		tracked.notional = prevNotional.Add(evt.FillQty.Mul(evt.FillPrice))
		tracked.record.FilledQty = tracked.record.FilledQty.Add(evt.FillQty)
		tracked.record.AvgPrice = tracked.notional.Div(tracked.record.FilledQty)
	}
	tracked.record.Status = evt.Status
	tracked.record.UpdatedAt = evt.At
	record := tracked.record

	var outcome *Outcome
	if evt.Status.Terminal() {
		delete(m.orders, evt.OrderID)
		o := m.outcomeLocked(tracked)
		outcome = &o
	}
	subscribers := append([]func(Outcome){}, m.subscribers...)
	m.mu.Unlock()

	m.metrics.VenueEvent(context.Background(), evt.Venue, string(evt.Status))
	if outcome != nil {
		for _, subscriber := range subscribers {
			subscriber(*outcome)
		}
	}
	return record, nil
}

// Run consumes an event stream and sweeps for ack timeouts until ctx
// ends or the stream closes.
func (m *Monitor) Run(ctx context.Context, events <-chan schema.VenueEvent) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if _, err := m.OnVenueEvent(evt); err != nil {
				observability.Log().Debug("venue event dropped",
					observability.F("venue", evt.Venue),
					observability.F("order", evt.OrderID),
					observability.F("error", err.Error()))
			}
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep rejects orders unacknowledged past the timeout and requests
// their cancellation at the venue.
func (m *Monitor) sweep(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	var expired []*trackedOrder
	for orderID, tracked := range m.orders {
		if tracked.acked || now.Sub(tracked.placedAt) < m.ackTimeout {
			continue
		}
		tracked.record.Status = schema.ExecRejected
		tracked.record.UpdatedAt = now
		delete(m.orders, orderID)
		expired = append(expired, tracked)
	}
	subscribers := append([]func(Outcome){}, m.subscribers...)
	cancelers := make(map[string]Canceler, len(m.cancelers))
	for venue, canceler := range m.cancelers {
		cancelers[venue] = canceler
	}
	var outcomes []Outcome
	for _, tracked := range expired {
		outcomes = append(outcomes, m.outcomeLocked(tracked))
	}
	m.mu.Unlock()

	for i, tracked := range expired {
		observability.Log().Error("order unacknowledged past timeout",
			observability.F("order", tracked.request.OrderID),
			observability.F("venue", tracked.request.Venue))
		if canceler, ok := cancelers[tracked.request.Venue]; ok {
			if err := canceler.Cancel(ctx, tracked.request.OrderID); err != nil {
				observability.Log().Error("cancel request failed",
					observability.F("order", tracked.request.OrderID),
					observability.F("error", err.Error()))
			}
		}
		for _, subscriber := range subscribers {
			subscriber(outcomes[i])
		}
	}
}

// outcomeLocked scores one finished lifecycle. Fill ratio rewards
// completion; the slippage delta against the shadow prediction penalizes
// worse-than-predicted execution. Rejections score -1.
func (m *Monitor) outcomeLocked(tracked *trackedOrder) Outcome {
	outcome := Outcome{Record: tracked.record}

	if tracked.request.Quantity.IsPositive() {
		ratio, _ := tracked.record.FilledQty.Div(tracked.request.Quantity).Float64()
		outcome.FillRatio = ratio
	}

	if tracked.record.FilledQty.IsPositive() && tracked.expectedPrice.IsPositive() {
		delta := tracked.record.AvgPrice.Sub(tracked.expectedPrice).
			Div(tracked.expectedPrice).Mul(decimal.NewFromInt(10000))
		if tracked.request.Side == schema.ActionSell {
			delta = delta.Neg()
		}
		outcome.SlippageDeltaBps = delta
	}

	switch tracked.record.Status {
	case schema.ExecRejected:
		outcome.Quality = -1
	case schema.ExecCanceled:
		outcome.Quality = outcome.FillRatio - 1
	default:
		slip, _ := outcome.SlippageDeltaBps.Float64()
		outcome.Quality = clamp(outcome.FillRatio-slip/100, -1, 1)
	}
	return outcome
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
