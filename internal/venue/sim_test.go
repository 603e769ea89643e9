package venue

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func simOrder(id string) schema.OrderRequest {
	limit := dec("49990")
	return schema.OrderRequest{
		OrderID:    id,
		CycleID:    "cycle-1",
		Venue:      "simx",
		Instrument: "BTC-USDT",
		Side:       schema.ActionBuy,
		OrderType:  schema.OrderTypePostOnly,
		Quantity:   dec("0.5"),
		LimitPrice: &limit,
		CreatedAt:  time.Now(),
	}
}

func collectEvents(t *testing.T, s *Sim, orderID string, want int) []schema.VenueEvent {
	t.Helper()
	var got []schema.VenueEvent
	timeout := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case evt := <-s.Events():
			if evt.OrderID == orderID {
				got = append(got, evt)
			}
		case <-timeout:
			t.Fatalf("timed out with %d/%d events", len(got), want)
		}
	}
	return got
}

func TestSimBookShape(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", Levels: 3})
	t.Cleanup(func() { _ = s.Close() })

	book, err := s.Book("BTC-USDT")
	require.NoError(t, err)
	require.Len(t, book.Bids, 3)
	require.Len(t, book.Asks, 3)
	require.True(t, book.BestBid().LessThan(book.BestAsk()))
	require.True(t, book.RecentVolume.IsPositive())

	_, err = s.Book("???")
	require.Error(t, err)
}

func TestSimBookDrifts(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx"})
	t.Cleanup(func() { _ = s.Close() })

	first, err := s.Book("BTC-USDT")
	require.NoError(t, err)
	second, err := s.Book("BTC-USDT")
	require.NoError(t, err)
	require.False(t, first.Mid().Equal(second.Mid()))
}

func TestSimPlaceFillsOrder(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", LatencyMS: 1})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Place(context.Background(), simOrder("ord-1")))
	events := collectEvents(t, s, "ord-1", 2)
	require.Equal(t, schema.ExecAcked, events[0].Status)
	require.Equal(t, schema.ExecFilled, events[1].Status)
	require.True(t, events[1].FillQty.Equal(dec("0.5")))
	require.True(t, events[1].FillPrice.Equal(dec("49990")))
}

func TestSimPartialFillSequence(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", LatencyMS: 1, PartialFills: true})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Place(context.Background(), simOrder("ord-2")))
	events := collectEvents(t, s, "ord-2", 3)
	require.Equal(t, schema.ExecAcked, events[0].Status)
	require.Equal(t, schema.ExecPartial, events[1].Status)
	require.Equal(t, schema.ExecFilled, events[2].Status)
}

func TestSimRejectOrdersMode(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", LatencyMS: 1, RejectOrders: true})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Place(context.Background(), simOrder("ord-3")))
	events := collectEvents(t, s, "ord-3", 2)
	require.Equal(t, schema.ExecAcked, events[0].Status)
	require.Equal(t, schema.ExecRejected, events[1].Status)
}

func TestSimRejectsNonPositiveQuantity(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx"})
	t.Cleanup(func() { _ = s.Close() })

	req := simOrder("ord-4")
	req.Quantity = decimal.Zero
	require.Error(t, s.Place(context.Background(), req))
}

func TestSimCancelOpenOrder(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", LatencyMS: 500})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Place(context.Background(), simOrder("ord-5")))
	events := collectEvents(t, s, "ord-5", 1)
	require.Equal(t, schema.ExecAcked, events[0].Status)

	require.NoError(t, s.Cancel(context.Background(), "ord-5"))
	events = collectEvents(t, s, "ord-5", 1)
	require.Equal(t, schema.ExecCanceled, events[0].Status)
}

func TestPlaceWithRetryTimesOutAgainstUnavailableVenue(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", LatencyMS: 1})
	require.NoError(t, s.Close())

	err := PlaceWithRetry(context.Background(), s, simOrder("ord-6"), 50*time.Millisecond)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeVenueTimeout))

	var envelope *errs.E
	require.ErrorAs(t, err, &envelope)
	require.Equal(t, "simx", envelope.Venue)
	require.NotNil(t, envelope.Unwrap())
}

func TestPlaceWithRetryReturnsVenueRejectionsImmediately(t *testing.T) {
	s := NewSim(SimOptions{Name: "simx", LatencyMS: 1})
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	req := simOrder("ord-7")
	req.Quantity = decimal.Zero
	err := PlaceWithRetry(context.Background(), s, req, time.Second)
	require.True(t, errs.HasCode(err, errs.CodeVenueRejected))
}

func TestReliabilityTracker(t *testing.T) {
	tracker := NewReliabilityTracker(0.2, 0.5)
	require.InDelta(t, 1.0, tracker.Score("simx"), 1e-9)
	require.True(t, tracker.Healthy("simx"))

	for i := 0; i < 10; i++ {
		tracker.Record("simx", false)
	}
	require.Less(t, tracker.Score("simx"), 0.5)
	require.False(t, tracker.Healthy("simx"))

	for i := 0; i < 20; i++ {
		tracker.Record("simx", true)
	}
	require.True(t, tracker.Healthy("simx"))
}
