package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/source"
)

type stubSource struct {
	id    string
	rec   schema.Recommendation
	err   error
	delay time.Duration
}

func (s *stubSource) ID() string { return s.id }

func (s *stubSource) Advise(ctx context.Context, _ string) (schema.Recommendation, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return schema.Recommendation{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.rec, s.err
}

func (s *stubSource) Close() error { return nil }

func rec(id string, action schema.Action) schema.Recommendation {
	r := schema.Recommendation{
		SourceID:   id,
		Instrument: "BTC-USDT",
		Action:     action,
		Confidence: 0.8,
		ProducedAt: time.Now(),
	}
	if action != schema.ActionHold {
		r.TargetSize = decimal.RequireFromString("0.05")
	}
	return r
}

func TestCollectGathersAllResponders(t *testing.T) {
	c := New([]source.Source{
		&stubSource{id: "a", rec: rec("a", schema.ActionBuy)},
		&stubSource{id: "b", rec: rec("b", schema.ActionSell)},
		&stubSource{id: "c", rec: rec("c", schema.ActionHold)},
	}, time.Second, 4, nil)

	got := c.Collect(context.Background(), "BTC-USDT")
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].SourceID)
	require.Equal(t, "b", got[1].SourceID)
	require.Equal(t, "c", got[2].SourceID)
}

func TestCollectExcludesFailuresWithoutAborting(t *testing.T) {
	c := New([]source.Source{
		&stubSource{id: "a", err: errors.New("boom")},
		&stubSource{id: "b", rec: rec("b", schema.ActionBuy)},
	}, time.Second, 4, nil)

	got := c.Collect(context.Background(), "BTC-USDT")
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].SourceID)
}

func TestCollectDropsSlowSourceAtDeadline(t *testing.T) {
	c := New([]source.Source{
		&stubSource{id: "fast", rec: rec("fast", schema.ActionBuy)},
		&stubSource{id: "slow", rec: rec("slow", schema.ActionSell), delay: 500 * time.Millisecond},
	}, 50*time.Millisecond, 4, nil)

	start := time.Now()
	got := c.Collect(context.Background(), "BTC-USDT")
	require.Less(t, time.Since(start), 400*time.Millisecond)
	require.Len(t, got, 1)
	require.Equal(t, "fast", got[0].SourceID)
}

func TestCollectExcludesInvalidPayloads(t *testing.T) {
	bad := rec("bad", schema.ActionBuy)
	bad.Confidence = 2.0
	wrong := rec("wrong", schema.ActionBuy)
	wrong.Instrument = "ETH-USDT"

	c := New([]source.Source{
		&stubSource{id: "bad", rec: bad},
		&stubSource{id: "wrong", rec: wrong},
		&stubSource{id: "ok", rec: rec("ok", schema.ActionHold)},
	}, time.Second, 4, nil)

	got := c.Collect(context.Background(), "BTC-USDT")
	require.Len(t, got, 1)
	require.Equal(t, "ok", got[0].SourceID)
}

func TestCollectEmptySources(t *testing.T) {
	c := New(nil, time.Second, 4, nil)
	require.Empty(t, c.Collect(context.Background(), "BTC-USDT"))
}
