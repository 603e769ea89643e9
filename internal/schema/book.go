package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one depth level of an order book side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// BookSnapshot is a point-in-time order book for an instrument on one
// venue. Bids descend by price, asks ascend. The shadow executor replays
// orders against the snapshot captured at decision time, so a snapshot is
// never mutated after capture.
type BookSnapshot struct {
	Venue        string          `json:"venue"`
	Instrument   string          `json:"instrument"`
	Bids         []PriceLevel    `json:"bids"`
	Asks         []PriceLevel    `json:"asks"`
	RecentVolume decimal.Decimal `json:"recent_volume"` // traded volume over the venue's reference window
	CapturedAt   time.Time       `json:"captured_at"`
}

// BestBid returns the highest bid price, or zero when the side is empty.
func (b BookSnapshot) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or zero when the side is empty.
func (b BookSnapshot) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Mid returns the bid/ask midpoint, falling back to whichever side exists.
func (b BookSnapshot) Mid() decimal.Decimal {
	bid, ask := b.BestBid(), b.BestAsk()
	switch {
	case bid.IsPositive() && ask.IsPositive():
		return bid.Add(ask).Div(decimal.NewFromInt(2))
	case bid.IsPositive():
		return bid
	default:
		return ask
	}
}

// DepthQuote sums the notional value resting on the given side.
func (b BookSnapshot) DepthQuote(side Action) decimal.Decimal {
	levels := b.Asks
	if side == ActionSell {
		levels = b.Bids
	}
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Price.Mul(lvl.Quantity))
	}
	return total
}

// BookProvider returns a point-in-time order book snapshot for an
// instrument on a venue. Implemented by venue adapters.
type BookProvider interface {
	Book(instrument string) (BookSnapshot, error)
}
