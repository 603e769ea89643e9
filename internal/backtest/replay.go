// Package backtest replays historical candles through the decision
// pipeline offline: consensus, risk gating, and shadow validation run
// unchanged, and promoted decisions fill against a book synthesized from
// each candle instead of a live venue.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/internal/collector"
	"github.com/quorumlab/quorum/internal/consensus"
	"github.com/quorumlab/quorum/internal/portfolio"
	"github.com/quorumlab/quorum/internal/risk"
	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/shadow"
)

const (
	// Venue names the synthetic execution venue replay fills settle on.
	Venue      = "replay"
	bookLevels = 5
)

var (
	spreadFraction = decimal.RequireFromString("0.0002")
	levelDivisor   = decimal.NewFromInt(20)
)

// Report accumulates the run's outcome statistics.
type Report struct {
	Candles        int
	Decisions      map[schema.Action]int
	Rejections     map[string]int
	Downsized      int
	ParityFailures int
	Fills          int
	TradedNotional decimal.Decimal
	RealizedPnL    decimal.Decimal
	FinalEquity    decimal.Decimal
	OpenExposure   decimal.Decimal
	MaxDrawdownPct float64
}

// String renders the report for the CLI.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candles replayed:   %d\n", r.Candles)
	for _, action := range []schema.Action{schema.ActionBuy, schema.ActionSell, schema.ActionHold} {
		fmt.Fprintf(&b, "decisions %-9s %d\n", string(action)+":", r.Decisions[action])
	}
	for reason, count := range r.Rejections {
		fmt.Fprintf(&b, "rejected %-10s %d\n", reason+":", count)
	}
	fmt.Fprintf(&b, "downsized:          %d\n", r.Downsized)
	fmt.Fprintf(&b, "parity failures:    %d\n", r.ParityFailures)
	fmt.Fprintf(&b, "fills:              %d\n", r.Fills)
	fmt.Fprintf(&b, "traded notional:    %s\n", r.TradedNotional.StringFixed(2))
	fmt.Fprintf(&b, "realized pnl:       %s\n", r.RealizedPnL.StringFixed(2))
	fmt.Fprintf(&b, "final equity:       %s\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(&b, "open exposure:      %s\n", r.OpenExposure.StringFixed(2))
	fmt.Fprintf(&b, "max drawdown:       %.2f%%\n", r.MaxDrawdownPct)
	return b.String()
}

// Engine drives the replay. The collector, consensus engine, risk gate,
// and shadow executor are the live components; only execution is
// simulated.
type Engine struct {
	feeder    *CSVFeeder
	collector *collector.Collector
	consensus *consensus.Engine
	gate      *risk.Gate
	shadow    *shadow.Executor
	state     *portfolio.State
	writer    *portfolio.Writer
}

// NewEngine assembles a replay over the given components and starting
// equity.
func NewEngine(feeder *CSVFeeder, coll *collector.Collector, eng *consensus.Engine, gate *risk.Gate, exec *shadow.Executor, startingEquity decimal.Decimal) *Engine {
	state := portfolio.NewState(startingEquity)
	return &Engine{
		feeder:    feeder,
		collector: coll,
		consensus: eng,
		gate:      gate,
		shadow:    exec,
		state:     state,
		writer:    portfolio.NewWriter(state),
	}
}

// Run replays the full data file and returns the report.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	defer e.writer.Close()
	report := Report{
		Decisions:      make(map[schema.Action]int),
		Rejections:     make(map[string]int),
		TradedNotional: decimal.Zero,
		RealizedPnL:    decimal.Zero,
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		candle, err := e.feeder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, err
		}
		report.Candles++
		if err := e.step(ctx, candle, &report); err != nil {
			return report, err
		}
	}

	snapshot := e.state.Snapshot()
	report.FinalEquity = snapshot.Equity
	report.OpenExposure = snapshot.OpenExposure()
	return report, nil
}

func (e *Engine) step(ctx context.Context, candle Candle, report *Report) error {
	recs := e.collector.Collect(ctx, candle.Instrument)
	decision := e.consensus.Decide(candle.Instrument, recs)
	report.Decisions[decision.Action]++
	if !decision.Actionable() {
		return nil
	}

	snapshot := e.state.Snapshot()
	verdict := e.gate.Evaluate(decision, snapshot)
	if !verdict.Approved() {
		report.Rejections[verdict.RejectionReason]++
		return nil
	}
	if verdict.Downsized() {
		report.Downsized++
	}

	result, promotion := e.shadow.Validate(verdict, bookFromCandle(candle))
	if promotion == nil {
		report.ParityFailures++
		return nil
	}
	// Replay fills directly, so the token is retired here rather than by
	// the router.
	if !promotion.Consume() {
		return nil
	}
	return e.fill(ctx, candle, result, report)
}

// fill applies the simulated execution to portfolio state. Sells realize
// PnL against the position's average entry price.
func (e *Engine) fill(ctx context.Context, candle Candle, result schema.ShadowResult, report *Report) error {
	qty := result.FillQty
	price := result.FillPrice
	if !qty.IsPositive() || !price.IsPositive() {
		return nil
	}

	realized := decimal.Zero
	if result.Action == schema.ActionSell {
		snapshot := e.state.Snapshot()
		for _, pos := range snapshot.Positions {
			if pos.Instrument != candle.Instrument {
				continue
			}
			settled := decimal.Min(qty, pos.Quantity)
			realized = price.Sub(pos.AvgPrice).Mul(settled)
			break
		}
	}

	err := e.writer.Apply(ctx, portfolio.Feedback{
		Instrument:  candle.Instrument,
		Venue:       Venue,
		Side:        result.Action,
		FilledQty:   qty,
		AvgPrice:    price,
		RealizedPnL: realized,
	})
	if err != nil {
		return err
	}

	report.Fills++
	report.TradedNotional = report.TradedNotional.Add(qty.Mul(price))
	report.RealizedPnL = report.RealizedPnL.Add(realized)
	if dd := e.state.Snapshot().DrawdownPct; dd > report.MaxDrawdownPct {
		report.MaxDrawdownPct = dd
	}
	return nil
}

// bookFromCandle synthesizes a symmetric book around the candle close.
// The snapshot is stamped at replay time so shadow timing checks see a
// fresh capture.
func bookFromCandle(candle Candle) schema.BookSnapshot {
	mid := candle.Close
	tick := mid.Mul(spreadFraction)
	perLevel := candle.Volume.Div(levelDivisor)
	if !perLevel.IsPositive() {
		perLevel = decimal.NewFromInt(1)
	}

	book := schema.BookSnapshot{
		Venue:        Venue,
		Instrument:   candle.Instrument,
		RecentVolume: candle.Volume.Mul(mid),
		CapturedAt:   time.Now(),
	}
	for i := 1; i <= bookLevels; i++ {
		offset := tick.Mul(decimal.NewFromInt(int64(i)))
		book.Bids = append(book.Bids, schema.PriceLevel{Price: mid.Sub(offset), Quantity: perLevel})
		book.Asks = append(book.Asks, schema.PriceLevel{Price: mid.Add(offset), Quantity: perLevel})
	}
	return book
}
