package portfolio

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/internal/schema"
)

// Feedback is one terminal execution outcome to fold into portfolio
// state: the realized fill plus any realized PnL.
type Feedback struct {
	Instrument  string
	Venue       string
	Side        schema.Action
	FilledQty   decimal.Decimal
	AvgPrice    decimal.Decimal
	RealizedPnL decimal.Decimal
}

type applyReq struct {
	feedback Feedback
	done     chan struct{}
}

// Writer is the single mutation path into State. One apply goroutine per
// instrument serializes updates, so an exposure write is always visible
// before the next risk evaluation for the same instrument reads a
// snapshot. Apply blocks until the update has landed.
type Writer struct {
	state *State

	mu     sync.Mutex
	queues map[string]chan applyReq
	closed bool
	wg     sync.WaitGroup
}

// NewWriter creates the feedback writer over the given state.
func NewWriter(state *State) *Writer {
	return &Writer{
		state:  state,
		queues: make(map[string]chan applyReq),
	}
}

// Apply enqueues the feedback on the instrument's queue and waits until
// the state mutation is visible.
func (w *Writer) Apply(ctx context.Context, fb Feedback) error {
	req := applyReq{feedback: fb, done: make(chan struct{})}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return context.Canceled
	}
	queue, ok := w.queues[fb.Instrument]
	if !ok {
		queue = make(chan applyReq, 16)
		w.queues[fb.Instrument] = queue
		w.wg.Add(1)
		go w.run(queue)
	}
	w.mu.Unlock()

	select {
	case queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run(queue chan applyReq) {
	defer w.wg.Done()
	for req := range queue {
		fb := req.feedback
		w.state.applyFill(fb.Instrument, fb.Venue, fb.Side, fb.FilledQty, fb.AvgPrice)
		w.state.applyRealized(fb.RealizedPnL)
		close(req.done)
	}
}

// Close drains and stops all instrument queues.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, queue := range w.queues {
		close(queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
