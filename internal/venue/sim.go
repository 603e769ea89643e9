package venue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
)

// SimOptions configures one simulated venue.
type SimOptions struct {
	Name         string
	LatencyMS    int
	TakerFee     decimal.Decimal
	Levels       int  // book depth per side
	RejectOrders bool // every placement acks then rejects, for failure drills
	PartialFills bool // fill in two legs instead of one
}

// Sim is an in-process venue with a synthetic random-walk book. Orders
// ack immediately and fill against the synthetic book after the
// configured latency. Event emission order per order id is always
// acked, then zero or more partials, then one terminal event.
type Sim struct {
	opts   SimOptions
	events chan schema.VenueEvent

	mu     sync.Mutex
	seq    map[string]uint64
	open   map[string]schema.OrderRequest
	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
	closed bool
}

// NewSim builds a simulated venue.
func NewSim(opts SimOptions) *Sim {
	if opts.Levels <= 0 {
		opts.Levels = 5
	}
	return &Sim{
		opts:   opts,
		events: make(chan schema.VenueEvent, 256),
		seq:    make(map[string]uint64),
		open:   make(map[string]schema.OrderRequest),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

func (s *Sim) Name() string { return s.opts.Name }

func (s *Sim) Events() <-chan schema.VenueEvent { return s.events }

// Health reports the sim as always up with perfect reliability; the
// tracker layered above folds in realized outcomes.
func (s *Sim) Health() Health {
	return Health{
		Healthy:     true,
		Reliability: 1.0,
		LatencyMS:   s.opts.LatencyMS,
		TakerFee:    s.opts.TakerFee,
	}
}

// Book synthesizes a snapshot around the instrument's drifting mid.
func (s *Sim) Book(instrument string) (schema.BookSnapshot, error) {
	base := basePrice(instrument)
	if !base.IsPositive() {
		return schema.BookSnapshot{}, errs.New("venue/sim", errs.CodeInvalid,
			errs.WithVenue(s.opts.Name), errs.WithInstrument(instrument),
			errs.WithMessage("unknown instrument"))
	}
	s.mu.Lock()
	s.seq[instrument]++
	seq := s.seq[instrument]
	s.mu.Unlock()

	mid := driftedMid(base, seq)
	tick := mid.Mul(decimal.RequireFromString("0.0002"))
	qty := decimal.RequireFromString("2.5")

	book := schema.BookSnapshot{
		Venue:        s.opts.Name,
		Instrument:   instrument,
		RecentVolume: mid.Mul(decimal.NewFromInt(2000)),
		CapturedAt:   s.now(),
	}
	for i := 1; i <= s.opts.Levels; i++ {
		offset := tick.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, schema.PriceLevel{Price: mid.Sub(offset), Quantity: qty})
		book.Asks = append(book.Asks, schema.PriceLevel{Price: mid.Add(offset), Quantity: qty})
	}
	return book, nil
}

// Place acks the order and schedules its lifecycle events.
func (s *Sim) Place(ctx context.Context, req schema.OrderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !req.Quantity.IsPositive() {
		return errs.New("venue/sim", errs.CodeVenueRejected,
			errs.WithVenue(s.opts.Name), errs.WithMessage("non-positive quantity"))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("venue/sim", errs.CodeUnavailable, errs.WithVenue(s.opts.Name))
	}
	s.open[req.OrderID] = req
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runLifecycle(req)
	return nil
}

// Cancel marks an open order canceled. Unknown or already-terminal
// orders are a no-op.
func (s *Sim) Cancel(_ context.Context, orderID string) error {
	s.mu.Lock()
	_, ok := s.open[orderID]
	if ok {
		delete(s.open, orderID)
	}
	s.mu.Unlock()
	if ok {
		s.emit(schema.VenueEvent{
			Venue:   s.opts.Name,
			OrderID: orderID,
			Status:  schema.ExecCanceled,
			Reason:  "canceled by request",
			At:      s.now(),
		})
	}
	return nil
}

// Close stops the event stream after in-flight lifecycles drain.
func (s *Sim) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *Sim) runLifecycle(req schema.OrderRequest) {
	defer s.wg.Done()

	latency := time.Duration(s.opts.LatencyMS) * time.Millisecond
	s.emit(schema.VenueEvent{
		Venue:   s.opts.Name,
		OrderID: req.OrderID,
		Status:  schema.ExecAcked,
		At:      s.now(),
	})

	select {
	case <-s.done:
		return
	case <-time.After(latency):
	}

	s.mu.Lock()
	_, stillOpen := s.open[req.OrderID]
	if stillOpen {
		delete(s.open, req.OrderID)
	}
	s.mu.Unlock()
	if !stillOpen {
		return
	}

	if s.opts.RejectOrders {
		s.emit(schema.VenueEvent{
			Venue:   s.opts.Name,
			OrderID: req.OrderID,
			Status:  schema.ExecRejected,
			Reason:  "rejected by venue",
			At:      s.now(),
		})
		return
	}

	price := fillPrice(req)
	if s.opts.PartialFills {
		half := req.Quantity.Div(decimal.NewFromInt(2))
		s.emit(schema.VenueEvent{
			Venue:     s.opts.Name,
			OrderID:   req.OrderID,
			Status:    schema.ExecPartial,
			FillQty:   half,
			FillPrice: price,
			At:        s.now(),
		})
		s.emit(schema.VenueEvent{
			Venue:     s.opts.Name,
			OrderID:   req.OrderID,
			Status:    schema.ExecFilled,
			FillQty:   req.Quantity.Sub(half),
			FillPrice: price,
			At:        s.now(),
		})
		return
	}
	s.emit(schema.VenueEvent{
		Venue:     s.opts.Name,
		OrderID:   req.OrderID,
		Status:    schema.ExecFilled,
		FillQty:   req.Quantity,
		FillPrice: price,
		At:        s.now(),
	})
}

func (s *Sim) emit(evt schema.VenueEvent) {
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

func fillPrice(req schema.OrderRequest) decimal.Decimal {
	if req.LimitPrice != nil && req.LimitPrice.IsPositive() {
		return *req.LimitPrice
	}
	return basePrice(req.Instrument)
}

// basePrice mirrors the synthetic reference prices used for development
// instruments; unknown symbols get a generic level.
func basePrice(instrument string) decimal.Decimal {
	switch strings.ToUpper(instrument) {
	case "BTC-USDT":
		return decimal.NewFromInt(50000)
	case "ETH-USDT":
		return decimal.NewFromInt(2400)
	case "SOL-USDT":
		return decimal.NewFromInt(250)
	case "DOGE-USDT":
		return decimal.RequireFromString("0.32")
	default:
		if strings.Contains(instrument, "-") {
			return decimal.NewFromInt(100)
		}
		return decimal.Zero
	}
}

// driftedMid walks the mid deterministically by sequence number so
// repeated snapshots move without a shared random source.
func driftedMid(base decimal.Decimal, seq uint64) decimal.Decimal {
	step := int64(seq%21) - 10
	drift := base.Mul(decimal.RequireFromString("0.0001")).Mul(decimal.NewFromInt(step))
	return base.Add(drift)
}
