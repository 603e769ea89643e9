package audit

import (
	"context"
	"io"
	"sync"

	json "github.com/goccy/go-json"
)

// JSONLSink writes each event as one JSON line, for log shipping.
type JSONLSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONLSink wraps the writer.
func NewJSONLSink(out io.Writer) *JSONLSink {
	return &JSONLSink{out: out}
}

// Deliver encodes and appends one event.
func (s *JSONLSink) Deliver(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	_, err = s.out.Write([]byte("\n"))
	return err
}

// MemorySink keeps the most recent events in a ring, backing the
// outcome-history query surface and tests.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewMemorySink retains up to limit events.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 1024
	}
	return &MemorySink{limit: limit}
}

// Deliver appends the event, evicting the oldest past the limit.
func (s *MemorySink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// ByCycle returns the retained events for one cycle, in publish order.
func (s *MemorySink) ByCycle(cycleID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.CycleID == cycleID {
			out = append(out, event)
		}
	}
	return out
}
