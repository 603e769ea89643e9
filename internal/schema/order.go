package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType selects the execution strategy for a routed order.
type OrderType string

const (
	// OrderTypePostOnly rests a passive limit order; the default policy to
	// avoid taking liquidity.
	OrderTypePostOnly OrderType = "post_only"
	// OrderTypeTWAP splits a large order into time-bounded slices.
	OrderTypeTWAP OrderType = "twap"
	// OrderTypeVWAP splits a large order along the venue volume profile.
	OrderTypeVWAP OrderType = "vwap"
	// OrderTypeIceberg exposes only a visible tranche of the full size.
	OrderTypeIceberg OrderType = "iceberg"
	// OrderTypeMarket crosses the spread immediately.
	OrderTypeMarket OrderType = "market"
)

// Slice describes one child of a sliced parent order.
type Slice struct {
	Index     int           `json:"index"`
	Count     int           `json:"count"`
	NotBefore time.Duration `json:"not_before"` // offset from routing time, TWAP pacing
}

// OrderRequest is one venue-facing order emitted by the router for a
// promoted decision. Owned exclusively by the router until handed to the
// venue adapter. Sliced strategies emit one request per (venue, slice) pair,
// each with its own limit price recomputed from the latest book snapshot.
type OrderRequest struct {
	OrderID    string           `json:"order_id"`
	CycleID    string           `json:"cycle_id"`
	Venue      string           `json:"venue"`
	Instrument string           `json:"instrument"`
	Side       Action           `json:"side"`
	OrderType  OrderType        `json:"order_type"`
	Quantity   decimal.Decimal  `json:"quantity"` // base units
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	Slice      Slice            `json:"slice"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ExecStatus is the lifecycle state of a placed order.
type ExecStatus string

const (
	// ExecAcked marks venue acknowledgment.
	ExecAcked ExecStatus = "acked"
	// ExecPartial marks a partial fill.
	ExecPartial ExecStatus = "partial"
	// ExecFilled marks a complete fill. Terminal.
	ExecFilled ExecStatus = "filled"
	// ExecCanceled marks cancellation. Terminal.
	ExecCanceled ExecStatus = "canceled"
	// ExecRejected marks venue rejection or ack timeout. Terminal.
	ExecRejected ExecStatus = "rejected"
)

// Terminal reports whether the status ends the order lifecycle.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecFilled, ExecCanceled, ExecRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle state machine permits moving
// from s to next: acked -> {partial, filled, canceled, rejected},
// partial -> {partial, filled, canceled}.
func (s ExecStatus) CanTransition(next ExecStatus) bool {
	switch s {
	case ExecAcked:
		return next == ExecPartial || next == ExecFilled || next == ExecCanceled || next == ExecRejected
	case ExecPartial:
		return next == ExecPartial || next == ExecFilled || next == ExecCanceled
	default:
		return false
	}
}

// ExecutionRecord tracks one order's lifecycle on a venue. Created at
// acknowledgment, mutated by the execution monitor on each venue event,
// immutable once terminal.
type ExecutionRecord struct {
	OrderID    string          `json:"order_id"`
	CycleID    string          `json:"cycle_id"`
	Venue      string          `json:"venue"`
	Instrument string          `json:"instrument"`
	Side       Action          `json:"side"`
	Status     ExecStatus      `json:"status"`
	FilledQty  decimal.Decimal `json:"filled_size"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// VenueEvent is one lifecycle notification from a venue adapter's event
// stream, keyed by order id.
type VenueEvent struct {
	Venue     string          `json:"venue"`
	OrderID   string          `json:"order_id"`
	Status    ExecStatus      `json:"status"`
	FillQty   decimal.Decimal `json:"fill_qty"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"at"`
}
