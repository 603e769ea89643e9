package schema

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestExecStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ExecStatus
		ok       bool
	}{
		{ExecAcked, ExecPartial, true},
		{ExecAcked, ExecFilled, true},
		{ExecAcked, ExecCanceled, true},
		{ExecAcked, ExecRejected, true},
		{ExecPartial, ExecPartial, true},
		{ExecPartial, ExecFilled, true},
		{ExecPartial, ExecCanceled, true},
		{ExecPartial, ExecRejected, false},
		{ExecFilled, ExecPartial, false},
		{ExecCanceled, ExecFilled, false},
		{ExecRejected, ExecAcked, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	require.False(t, ExecAcked.Terminal())
	require.False(t, ExecPartial.Terminal())
	require.True(t, ExecFilled.Terminal())
	require.True(t, ExecCanceled.Terminal())
	require.True(t, ExecRejected.Terminal())
}

func TestRecommendationValidation(t *testing.T) {
	rec := Recommendation{
		SourceID:   "momentum",
		Instrument: "BTC-USDT",
		Action:     ActionBuy,
		TargetSize: decimal.RequireFromString("0.05"),
		Confidence: 0.9,
	}
	require.NoError(t, rec.Validate())

	bad := rec
	bad.Confidence = 1.2
	require.Error(t, bad.Validate())

	bad = rec
	bad.TargetSize = decimal.Zero
	require.Error(t, bad.Validate(), "non-hold advice needs a size")

	hold := rec
	hold.Action = ActionHold
	hold.TargetSize = decimal.Zero
	require.NoError(t, hold.Validate())

	bad = rec
	bad.Instrument = "btcusdt"
	require.Error(t, bad.Validate())
}

func TestBookSnapshotHelpers(t *testing.T) {
	book := BookSnapshot{
		Venue:      "sim",
		Instrument: "BTC-USDT",
		Bids: []PriceLevel{
			{Price: decimal.RequireFromString("99"), Quantity: decimal.RequireFromString("2")},
			{Price: decimal.RequireFromString("98"), Quantity: decimal.RequireFromString("1")},
		},
		Asks: []PriceLevel{
			{Price: decimal.RequireFromString("101"), Quantity: decimal.RequireFromString("1")},
		},
	}
	require.True(t, book.BestBid().Equal(decimal.RequireFromString("99")))
	require.True(t, book.BestAsk().Equal(decimal.RequireFromString("101")))
	require.True(t, book.Mid().Equal(decimal.RequireFromString("100")))
	require.True(t, book.DepthQuote(ActionSell).Equal(decimal.RequireFromString("296")))
	require.True(t, book.DepthQuote(ActionBuy).Equal(decimal.RequireFromString("101")))
}
