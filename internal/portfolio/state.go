// Package portfolio owns live account state: positions, venue exposure,
// equity, and trailing drawdown. The risk gate only ever sees immutable
// snapshots; mutation happens through the single-writer feedback queue.
package portfolio

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/internal/schema"
)

// State is the owned portfolio state object. All reads go through
// Snapshot; all writes come from the Writer's apply loop.
type State struct {
	mu            sync.RWMutex
	equity        decimal.Decimal
	peakEquity    decimal.Decimal
	positions     map[string]schema.Position
	venueExposure map[string]decimal.Decimal
	now           func() time.Time
	newSnapshotID func() string
}

// NewState seeds the portfolio with starting equity.
func NewState(equity decimal.Decimal) *State {
	return &State{
		equity:        equity,
		peakEquity:    equity,
		positions:     make(map[string]schema.Position),
		venueExposure: make(map[string]decimal.Decimal),
		now:           time.Now,
		newSnapshotID: func() string { return uuid.NewString() },
	}
}

// Snapshot captures a consistent point-in-time view. The returned value
// shares nothing with live state; a concurrent fill cannot change it.
func (s *State) Snapshot() schema.PortfolioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]schema.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, pos)
	}
	exposure := make(map[string]decimal.Decimal, len(s.venueExposure))
	for venue, notional := range s.venueExposure {
		exposure[venue] = notional
	}
	return schema.PortfolioSnapshot{
		SnapshotID:    s.newSnapshotID(),
		Equity:        s.equity,
		Positions:     positions,
		VenueExposure: exposure,
		DrawdownPct:   s.drawdownLocked(),
		TakenAt:       s.now(),
	}
}

// drawdownLocked returns trailing drawdown from peak equity, in percent.
func (s *State) drawdownLocked() float64 {
	if !s.peakEquity.IsPositive() || s.equity.GreaterThanOrEqual(s.peakEquity) {
		return 0
	}
	dd := s.peakEquity.Sub(s.equity).Div(s.peakEquity).Mul(decimal.NewFromInt(100))
	f, _ := dd.Float64()
	return f
}

// applyFill folds one fill into positions and venue exposure. Sells
// reduce the position; a position crossing zero is closed out.
func (s *State) applyFill(instrument, venue string, side schema.Action, qty, price decimal.Decimal) {
	if qty.IsZero() || !price.IsPositive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[instrument]
	if !ok {
		pos = schema.Position{Instrument: instrument, Venue: venue, AvgPrice: price}
	}
	notionalBefore := pos.Notional()

	switch side {
	case schema.ActionBuy:
		total := pos.Quantity.Add(qty)
		pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
		pos.Quantity = total
	case schema.ActionSell:
		pos.Quantity = pos.Quantity.Sub(qty)
	default:
		return
	}

	if pos.Quantity.IsPositive() {
		s.positions[instrument] = pos
	} else {
		delete(s.positions, instrument)
		pos.Quantity = decimal.Zero
	}

	delta := pos.Notional().Sub(notionalBefore)
	s.venueExposure[venue] = s.exposureLocked(venue).Add(delta)
	if !s.venueExposure[venue].IsPositive() {
		delete(s.venueExposure, venue)
	}
}

func (s *State) exposureLocked(venue string) decimal.Decimal {
	if v, ok := s.venueExposure[venue]; ok {
		return v
	}
	return decimal.Zero
}

// applyRealized folds realized PnL into equity and advances the peak.
func (s *State) applyRealized(pnl decimal.Decimal) {
	if pnl.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = s.equity.Add(pnl)
	if s.equity.GreaterThan(s.peakEquity) {
		s.peakEquity = s.equity
	}
}
