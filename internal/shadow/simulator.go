// Package shadow replays approved decisions against the captured order
// book and gates live routing on execution parity.
package shadow

import (
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/internal/schema"
)

// SimulatedFill is the predicted outcome of crossing a notional amount
// against one book snapshot.
type SimulatedFill struct {
	FillQty     decimal.Decimal
	AvgPrice    decimal.Decimal
	SlippageBps decimal.Decimal
	Exhausted   bool // ran out of book liquidity before the full notional
}

// Simulate walks the book consuming levels until the notional is spent.
// Pure function of its inputs; replays are exactly reproducible.
func Simulate(side schema.Action, notional decimal.Decimal, book schema.BookSnapshot) SimulatedFill {
	levels := book.Asks
	reference := book.BestAsk()
	if side == schema.ActionSell {
		levels = book.Bids
		reference = book.BestBid()
	}
	if !notional.IsPositive() || len(levels) == 0 || !reference.IsPositive() {
		return SimulatedFill{Exhausted: true}
	}

	remaining := notional
	filledQty := decimal.Zero
	spent := decimal.Zero
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		levelNotional := lvl.Price.Mul(lvl.Quantity)
		take := decimal.Min(remaining, levelNotional)
		qty := take.Div(lvl.Price)
		filledQty = filledQty.Add(qty)
		spent = spent.Add(take)
		remaining = remaining.Sub(take)
	}
	if !filledQty.IsPositive() {
		return SimulatedFill{Exhausted: true}
	}

	avg := spent.Div(filledQty)
	slippage := avg.Sub(reference).Div(reference).Mul(decimal.NewFromInt(10000))
	if side == schema.ActionSell {
		slippage = slippage.Neg()
	}
	return SimulatedFill{
		FillQty:     filledQty,
		AvgPrice:    avg,
		SlippageBps: slippage,
		Exhausted:   remaining.IsPositive(),
	}
}
