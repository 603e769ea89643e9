// Package audit emits the pipeline's immutable decision trail to
// registered subscribers.
package audit

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Kind tags one audit event with the pipeline stage that produced it.
type Kind string

const (
	KindDecision  Kind = "consensus_decision"
	KindVerdict   Kind = "risk_verdict"
	KindShadow    Kind = "shadow_result"
	KindOrder     Kind = "order_request"
	KindExecution Kind = "execution_record"
	KindHalt      Kind = "pipeline_halt"
)

// Event is one immutable, timestamped entry in the audit trail. Events
// for one cycle are published in causal order: decision, verdict, shadow
// result, order requests, execution records.
type Event struct {
	Kind       Kind      `json:"kind"`
	CycleID    string    `json:"cycle_id"`
	Instrument string    `json:"instrument"`
	At         time.Time `json:"at"`
	Payload    any       `json:"payload"`
}

// DeliveryFunc handles one event for a subscriber.
type DeliveryFunc func(context.Context, Event) error

// Subscriber pairs an id with its delivery handler.
type Subscriber struct {
	ID      string
	Deliver DeliveryFunc
}

// PublishError aggregates subscriber failures for one event.
type PublishError struct {
	Kind              Kind
	CycleID           string
	FailedSubscribers []string
	Errors            []error
}

// Error summarizes the aggregated failure.
func (e *PublishError) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := []string{"audit publish"}
	if e.Kind != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	}
	if e.CycleID != "" {
		parts = append(parts, fmt.Sprintf("cycle_id=%s", e.CycleID))
	}
	if len(e.FailedSubscribers) > 0 {
		parts = append(parts, fmt.Sprintf("failed_subscribers=%v", e.FailedSubscribers))
	}
	for _, err := range e.Errors {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes subscriber errors for errors.Is/As.
func (e *PublishError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return append([]error(nil), e.Errors...)
}

// Stream fans each event out to all subscribers in parallel and returns
// only when every delivery has finished, which preserves causal order
// for sequentially published events.
type Stream struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	maxWorkers  int
	now         func() time.Time
}

// NewStream builds a stream with the given delivery concurrency.
func NewStream(maxWorkers int) *Stream {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	return &Stream{maxWorkers: maxWorkers, now: time.Now}
}

// Subscribe registers a subscriber. Nil handlers are ignored at publish.
func (s *Stream) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.mu.Unlock()
}

// Publish stamps and delivers one event. Subscriber failures are
// aggregated; they never block the pipeline's forward progress.
func (s *Stream) Publish(ctx context.Context, kind Kind, cycleID, instrument string, payload any) error {
	event := Event{
		Kind:       kind,
		CycleID:    cycleID,
		Instrument: instrument,
		At:         s.now(),
		Payload:    payload,
	}

	s.mu.RLock()
	subscribers := append([]Subscriber(nil), s.subscribers...)
	s.mu.RUnlock()
	if len(subscribers) == 0 {
		return nil
	}
	if len(subscribers) == 1 {
		sub := subscribers[0]
		if sub.Deliver == nil {
			return nil
		}
		if err := sub.Deliver(ctx, event); err != nil {
			return &PublishError{Kind: kind, CycleID: cycleID,
				FailedSubscribers: []string{sub.ID}, Errors: []error{err}}
		}
		return nil
	}

	workerLimit := s.maxWorkers
	if workerLimit > len(subscribers) {
		workerLimit = len(subscribers)
	}
	var mu sync.Mutex
	var failed []string
	var errors []error
	p := pool.New().WithMaxGoroutines(workerLimit)
	for _, subscriber := range subscribers {
		sub := subscriber
		if sub.Deliver == nil {
			continue
		}
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failed = append(failed, sub.ID)
					errors = append(errors, fmt.Errorf("subscriber %s panic: %v", sub.ID, r))
					mu.Unlock()
				}
			}()
			if err := sub.Deliver(ctx, event); err != nil {
				mu.Lock()
				failed = append(failed, sub.ID)
				errors = append(errors, fmt.Errorf("subscriber %s: %w", sub.ID, err))
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if len(errors) > 0 {
		return &PublishError{Kind: kind, CycleID: cycleID, FailedSubscribers: failed, Errors: errors}
	}
	return nil
}
