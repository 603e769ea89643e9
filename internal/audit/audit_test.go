package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := NewStream(4)
	var a, b atomic.Int32
	s.Subscribe(Subscriber{ID: "a", Deliver: func(context.Context, Event) error { a.Add(1); return nil }})
	s.Subscribe(Subscriber{ID: "b", Deliver: func(context.Context, Event) error { b.Add(1); return nil }})

	require.NoError(t, s.Publish(context.Background(), KindDecision, "cycle-1", "BTC-USDT", nil))
	require.EqualValues(t, 1, a.Load())
	require.EqualValues(t, 1, b.Load())
}

func TestPublishAggregatesFailures(t *testing.T) {
	s := NewStream(4)
	s.Subscribe(Subscriber{ID: "ok", Deliver: func(context.Context, Event) error { return nil }})
	s.Subscribe(Subscriber{ID: "bad", Deliver: func(context.Context, Event) error { return errors.New("sink down") }})
	s.Subscribe(Subscriber{ID: "panicky", Deliver: func(context.Context, Event) error { panic("boom") }})

	err := s.Publish(context.Background(), KindVerdict, "cycle-1", "BTC-USDT", nil)
	require.Error(t, err)

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	require.ElementsMatch(t, []string{"bad", "panicky"}, publishErr.FailedSubscribers)
	require.Contains(t, publishErr.Error(), "cycle_id=cycle-1")
}

func TestPublishNoSubscribers(t *testing.T) {
	s := NewStream(4)
	require.NoError(t, s.Publish(context.Background(), KindDecision, "cycle-1", "BTC-USDT", nil))
}

func TestMemorySinkCausalOrderPerCycle(t *testing.T) {
	s := NewStream(4)
	sink := NewMemorySink(100)
	s.Subscribe(Subscriber{ID: "memory", Deliver: sink.Deliver})

	ctx := context.Background()
	for _, kind := range []Kind{KindDecision, KindVerdict, KindShadow, KindOrder, KindExecution} {
		require.NoError(t, s.Publish(ctx, kind, "cycle-1", "BTC-USDT", nil))
	}
	require.NoError(t, s.Publish(ctx, KindDecision, "cycle-2", "ETH-USDT", nil))

	got := sink.ByCycle("cycle-1")
	require.Len(t, got, 5)
	require.Equal(t, KindDecision, got[0].Kind)
	require.Equal(t, KindVerdict, got[1].Kind)
	require.Equal(t, KindShadow, got[2].Kind)
	require.Equal(t, KindOrder, got[3].Kind)
	require.Equal(t, KindExecution, got[4].Kind)
}

func TestMemorySinkEvictsOldest(t *testing.T) {
	sink := NewMemorySink(2)
	ctx := context.Background()
	for _, cycle := range []string{"c1", "c2", "c3"} {
		require.NoError(t, sink.Deliver(ctx, Event{Kind: KindDecision, CycleID: cycle}))
	}
	events := sink.Events()
	require.Len(t, events, 2)
	require.Equal(t, "c2", events[0].CycleID)
}

func TestJSONLSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLSink(&buf)
	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, Event{Kind: KindDecision, CycleID: "cycle-1", Instrument: "BTC-USDT"}))
	require.NoError(t, sink.Deliver(ctx, Event{Kind: KindVerdict, CycleID: "cycle-1", Instrument: "BTC-USDT"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"consensus_decision"`)
	require.Contains(t, lines[1], `"risk_verdict"`)
}
