// Command quorum runs the multi-source trading decision pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quorumlab/quorum/config"
	"github.com/quorumlab/quorum/internal/audit"
	"github.com/quorumlab/quorum/internal/collector"
	"github.com/quorumlab/quorum/internal/consensus"
	"github.com/quorumlab/quorum/internal/monitor"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/pipeline"
	"github.com/quorumlab/quorum/internal/portfolio"
	"github.com/quorumlab/quorum/internal/risk"
	"github.com/quorumlab/quorum/internal/router"
	"github.com/quorumlab/quorum/internal/shadow"
	"github.com/quorumlab/quorum/internal/source"
	"github.com/quorumlab/quorum/internal/store"
	"github.com/quorumlab/quorum/internal/telemetry"
	"github.com/quorumlab/quorum/internal/venue"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	placeMaxElapsed          = 10 * time.Second

	reliabilityAlpha = 0.3
	reliabilityFloor = 0.2
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath   = flag.String("config", "", "Path to the YAML configuration (defaults to QUORUM_CONFIG)")
		auditPath = flag.String("audit", "audit.jsonl", "Path of the JSONL audit trail")
		debug     = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	observability.SetLogger(observability.NewTextLogger(os.Stdout, *debug))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			observability.Log().Error("telemetry shutdown", observability.F("error", err.Error()))
		}
	}()
	metrics, err := telemetry.NewMetrics(provider)
	if err != nil {
		return fmt.Errorf("initialise metrics: %w", err)
	}

	weightStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer weightStore.Close()

	table := consensus.NewWeightTable(cfg.Consensus.InitialWeight, cfg.Consensus.SmoothingAlpha)
	rows, err := weightStore.LoadWeights(ctx)
	if err != nil {
		return fmt.Errorf("load source weights: %w", err)
	}
	table.Seed(rows)
	observability.Log().Info("source weights seeded", observability.F("rows", len(rows)))

	sources, err := buildSources(ctx, cfg.Sources)
	if err != nil {
		return err
	}
	coll := collector.New(sources, cfg.Collector.Deadline, cfg.Collector.MaxWorkers, metrics)
	defer func() {
		if err := coll.Close(); err != nil {
			observability.Log().Error("source shutdown", observability.F("error", err.Error()))
		}
	}()

	venues, venueNames := buildVenues(cfg.Venues)
	defer func() {
		for _, adapter := range venues {
			if err := adapter.Close(); err != nil {
				observability.Log().Error("venue shutdown",
					observability.F("venue", adapter.Name()),
					observability.F("error", err.Error()))
			}
		}
	}()

	auditFile, err := os.OpenFile(*auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer func() {
		if err := auditFile.Close(); err != nil {
			observability.Log().Error("audit close", observability.F("error", err.Error()))
		}
	}()
	stream := audit.NewStream(len(cfg.Instruments) + 1)
	stream.Subscribe(audit.Subscriber{ID: "jsonl", Deliver: audit.NewJSONLSink(auditFile).Deliver})

	state := portfolio.NewState(cfg.Portfolio.StartingEquity)
	writer := portfolio.NewWriter(state)
	defer writer.Close()

	deps := pipeline.Deps{
		Collector: coll,
		Engine:    consensus.NewEngine(cfg.Consensus.ConfidenceThreshold, table),
		Gate: risk.NewGate(risk.Limits{
			MaxPositionFraction: cfg.Risk.MaxPositionFraction,
			MaxVenueFraction:    cfg.Risk.MaxVenueFraction,
			MaxConcentration:    cfg.Risk.MaxConcentration,
			MaxDrawdownPct:      cfg.Risk.MaxDrawdownPct,
		}, venueNames, cfg.Risk.OrderThrottlePerSec),
		Shadow: shadow.NewExecutor(shadow.Tolerances{
			ParityThreshold:   cfg.Shadow.ParityThreshold,
			PriceToleranceBps: cfg.Shadow.PriceToleranceBps,
			QtyTolerancePct:   cfg.Shadow.QtyTolerancePct,
			MaxBookAge:        cfg.Risk.SnapshotStaleness,
		}),
		Router: router.New(router.Policy{
			LargeOrderVolumeFraction: cfg.Router.LargeOrderVolumeFraction,
			TWAPSlices:               cfg.Router.TWAPSlices,
			TWAPInterval:             cfg.Router.TWAPInterval,
			IcebergVisibleFraction:   cfg.Router.IcebergVisibleFraction,
			VWAPProfile:              cfg.Router.VWAPProfile,
			MaxVenuesPerOrder:        cfg.Router.MaxVenuesPerOrder,
			Scoring: router.Scoring{
				Liquidity:   cfg.Router.Scoring.Liquidity,
				Fee:         cfg.Router.Scoring.Fee,
				Latency:     cfg.Router.Scoring.Latency,
				Reliability: cfg.Router.Scoring.Reliability,
			},
		}),
		Monitor:         monitor.New(cfg.Monitor.AckTimeout, cfg.Monitor.SweepInterval, metrics),
		State:           state,
		Writer:          writer,
		Audit:           stream,
		Store:           weightStore,
		Tracker:         venue.NewReliabilityTracker(reliabilityAlpha, reliabilityFloor),
		Venues:          venues,
		Metrics:         metrics,
		Interval:        cfg.Collector.Interval,
		PlaceMaxElapsed: placeMaxElapsed,
	}

	manager := pipeline.NewManager(cfg.Instruments, deps)
	observability.Log().Info("pipeline started",
		observability.F("instruments", len(cfg.Instruments)),
		observability.F("sources", len(sources)),
		observability.F("venues", len(venues)))

	err = manager.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	observability.Log().Info("pipeline stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.WeightStore, error) {
	if cfg.PostgresDSN == "" {
		observability.Log().Info("using in-memory weight store")
		return store.NewMemoryStore(1024), nil
	}
	if err := store.Migrate(ctx, cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
		return nil, err
	}
	pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect weight store: %w", err)
	}
	return pg, nil
}

func buildSources(ctx context.Context, declared []config.SourceConfig) ([]source.Source, error) {
	registry := source.NewRegistry()
	source.RegisterBuiltins(registry)

	sources := make([]source.Source, 0, len(declared))
	for _, sc := range declared {
		src, err := registry.Create(ctx, sc)
		if err != nil {
			for _, created := range sources {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create source %s: %w", sc.ID, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func buildVenues(declared []config.VenueConfig) (map[string]venue.Adapter, []string) {
	if len(declared) == 0 {
		declared = []config.VenueConfig{{Name: "sim-primary", LatencyMS: 20}}
	}
	venues := make(map[string]venue.Adapter, len(declared))
	names := make([]string, 0, len(declared))
	for _, vc := range declared {
		venues[vc.Name] = venue.NewSim(venue.SimOptions{
			Name:      vc.Name,
			LatencyMS: vc.LatencyMS,
			TakerFee:  vc.TakerFee,
		})
		names = append(names, vc.Name)
	}
	return venues, names
}
