// Command backtest replays historical candles through the decision
// pipeline and prints the run statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quorumlab/quorum/config"
	"github.com/quorumlab/quorum/internal/backtest"
	"github.com/quorumlab/quorum/internal/collector"
	"github.com/quorumlab/quorum/internal/consensus"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/risk"
	"github.com/quorumlab/quorum/internal/shadow"
	"github.com/quorumlab/quorum/internal/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dataPath = flag.String("data", "", "Path to the historical candle file (CSV)")
		cfgPath  = flag.String("config", "", "Path to the YAML configuration (defaults to QUORUM_CONFIG)")
		debug    = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *dataPath == "" {
		return errors.New("-data flag is required")
	}

	observability.SetLogger(observability.NewTextLogger(os.Stderr, *debug))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := source.NewRegistry()
	source.RegisterBuiltins(registry)
	sources := make([]source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := registry.Create(ctx, sc)
		if err != nil {
			return fmt.Errorf("create source %s: %w", sc.ID, err)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return errors.New("at least one source must be configured")
	}

	feeder, err := backtest.NewCSVFeeder(*dataPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := feeder.Close(); err != nil {
			observability.Log().Error("feeder close", observability.F("error", err.Error()))
		}
	}()

	coll := collector.New(sources, cfg.Collector.Deadline, cfg.Collector.MaxWorkers, nil)
	defer func() {
		if err := coll.Close(); err != nil {
			observability.Log().Error("source shutdown", observability.F("error", err.Error()))
		}
	}()

	table := consensus.NewWeightTable(cfg.Consensus.InitialWeight, cfg.Consensus.SmoothingAlpha)
	engine := backtest.NewEngine(
		feeder,
		coll,
		consensus.NewEngine(cfg.Consensus.ConfidenceThreshold, table),
		risk.NewGate(risk.Limits{
			MaxPositionFraction: cfg.Risk.MaxPositionFraction,
			MaxVenueFraction:    cfg.Risk.MaxVenueFraction,
			MaxConcentration:    cfg.Risk.MaxConcentration,
			MaxDrawdownPct:      cfg.Risk.MaxDrawdownPct,
		}, []string{backtest.Venue}, 0),
		shadow.NewExecutor(shadow.Tolerances{
			ParityThreshold:   cfg.Shadow.ParityThreshold,
			PriceToleranceBps: cfg.Shadow.PriceToleranceBps,
			QtyTolerancePct:   cfg.Shadow.QtyTolerancePct,
			MaxBookAge:        cfg.Risk.SnapshotStaleness,
		}),
		cfg.Portfolio.StartingEquity,
	)

	report, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Print(report.String())
	return nil
}
