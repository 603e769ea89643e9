package backtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quorumlab/quorum/internal/collector"
	"github.com/quorumlab/quorum/internal/consensus"
	"github.com/quorumlab/quorum/internal/risk"
	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/shadow"
	"github.com/quorumlab/quorum/internal/source"
)

type stubSource struct {
	id         string
	action     schema.Action
	confidence float64
	size       decimal.Decimal
}

func (s stubSource) ID() string { return s.id }

func (s stubSource) Advise(_ context.Context, instrument string) (schema.Recommendation, error) {
	return schema.Recommendation{
		SourceID:   s.id,
		Instrument: instrument,
		Action:     s.action,
		Confidence: s.confidence,
		TargetSize: s.size,
		ProducedAt: time.Now(),
	}, nil
}

func (s stubSource) Close() error { return nil }

func writeCandles(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.csv")
	file, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, file.Close()) }()

	_, err = file.WriteString("timestamp,instrument,open,high,low,close,volume\n")
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		_, err = fmt.Fprintf(file, "%d,BTC-USDT,49990,50100,49900,50000,100\n",
			base.Add(time.Duration(i)*time.Minute).Unix())
		require.NoError(t, err)
	}
	return path
}

func newReplayEngine(t *testing.T, dataPath string, sources ...source.Source) *Engine {
	t.Helper()
	feeder, err := NewCSVFeeder(dataPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, feeder.Close()) })

	coll := collector.New(sources, 500*time.Millisecond, 4, nil)
	eng := consensus.NewEngine(0.75, consensus.NewWeightTable(0.5, 0.05))
	gate := risk.NewGate(risk.Limits{
		MaxPositionFraction: 0.10,
		MaxVenueFraction:    1.0,
		MaxConcentration:    0.50,
		MaxDrawdownPct:      5.0,
	}, []string{Venue}, 0)
	exec := shadow.NewExecutor(shadow.Tolerances{
		ParityThreshold:   1.0,
		PriceToleranceBps: 50,
		QtyTolerancePct:   0.1,
		MaxBookAge:        5 * time.Second,
	})
	return NewEngine(feeder, coll, eng, gate, exec, decimal.NewFromInt(100000))
}

func TestReplayFillsRepeatedBuys(t *testing.T) {
	engine := newReplayEngine(t, writeCandles(t, 2),
		stubSource{id: "momentum", action: schema.ActionBuy, confidence: 0.9, size: decimal.RequireFromString("0.04")})

	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, report.Candles)
	require.Equal(t, 2, report.Decisions[schema.ActionBuy])
	require.Equal(t, 2, report.Fills)
	require.Empty(t, report.Rejections)
	require.True(t, report.TradedNotional.IsPositive())
	require.True(t, report.OpenExposure.IsPositive())
	// Buys alone never move realized equity.
	require.True(t, report.FinalEquity.Equal(decimal.NewFromInt(100000)))
}

func TestReplayPositionCapBoundsExposure(t *testing.T) {
	engine := newReplayEngine(t, writeCandles(t, 5),
		stubSource{id: "momentum", action: schema.ActionBuy, confidence: 0.9, size: decimal.RequireFromString("0.06")})

	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	// 6% of equity per decision against a 10% cap: one full fill, one
	// downsized fill, then the cap holds the line.
	require.GreaterOrEqual(t, report.Fills, 2)
	require.GreaterOrEqual(t, report.Downsized, 1)
	require.GreaterOrEqual(t, report.Rejections[risk.ReasonPositionCap]+report.ParityFailures, 1)
	require.True(t, report.OpenExposure.LessThanOrEqual(decimal.NewFromInt(10001)))
}

func TestReplayLowConvictionHoldsThroughout(t *testing.T) {
	engine := newReplayEngine(t, writeCandles(t, 3),
		stubSource{id: "momentum", action: schema.ActionBuy, confidence: 0.4, size: decimal.RequireFromString("0.05")})

	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, report.Decisions[schema.ActionHold])
	require.Zero(t, report.Fills)
	require.True(t, report.OpenExposure.IsZero())
}

func TestCSVFeederReportsEOFAndBadRows(t *testing.T) {
	path := writeCandles(t, 1)
	feeder, err := NewCSVFeeder(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, feeder.Close()) }()

	candle, err := feeder.Next()
	require.NoError(t, err)
	require.Equal(t, "BTC-USDT", candle.Instrument)
	require.True(t, candle.Close.Equal(decimal.NewFromInt(50000)))

	_, err = feeder.Next()
	require.ErrorIs(t, err, io.EOF)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("header\nnot-a-timestamp,BTC-USDT,1,1,1,1,1\n"), 0o600))
	badFeeder, err := NewCSVFeeder(bad)
	require.NoError(t, err)
	defer func() { require.NoError(t, badFeeder.Close()) }()
	_, err = badFeeder.Next()
	require.Error(t, err)
}
