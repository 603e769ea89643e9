// Package config centralises runtime configuration for the quorum pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quorumlab/quorum/internal/schema"
)

// Config is the full configuration tree loaded from YAML with environment
// overrides. All numeric thresholds are tunable defaults, not validated
// constants.
type Config struct {
	Instruments []string        `yaml:"instruments"`
	Collector   CollectorConfig `yaml:"collector"`
	Consensus   ConsensusConfig `yaml:"consensus"`
	Risk        RiskConfig      `yaml:"risk"`
	Shadow      ShadowConfig    `yaml:"shadow"`
	Router      RouterConfig    `yaml:"router"`
	Monitor     MonitorConfig   `yaml:"monitor"`
	Portfolio   PortfolioConfig `yaml:"portfolio"`
	Sources     []SourceConfig  `yaml:"sources"`
	Venues      []VenueConfig   `yaml:"venues"`
	Store       StoreConfig     `yaml:"store"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// CollectorConfig bounds the recommendation fan-out and paces cycles.
type CollectorConfig struct {
	Deadline   time.Duration `yaml:"deadline"`
	MaxWorkers int           `yaml:"max_workers"`
	Interval   time.Duration `yaml:"interval"` // pause between consensus cycles
}

// PortfolioConfig seeds account state.
type PortfolioConfig struct {
	StartingEquity decimal.Decimal `yaml:"starting_equity"`
}

// ConsensusConfig tunes the weighted voting engine.
type ConsensusConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SmoothingAlpha      float64 `yaml:"smoothing_alpha"`
	InitialWeight       float64 `yaml:"initial_weight"`
}

// RiskConfig tunes the portfolio risk gate. Fractions are of portfolio equity.
type RiskConfig struct {
	MaxPositionFraction float64       `yaml:"max_position_fraction"`
	MaxVenueFraction    float64       `yaml:"max_venue_fraction"`
	MaxConcentration    float64       `yaml:"max_concentration"`
	MaxDrawdownPct      float64       `yaml:"max_drawdown_pct"`
	OrderThrottlePerSec float64       `yaml:"order_throttle_per_sec"`
	SnapshotStaleness   time.Duration `yaml:"snapshot_staleness"`
}

// ShadowConfig tunes parity validation.
type ShadowConfig struct {
	ParityThreshold   float64 `yaml:"parity_threshold"`
	PriceToleranceBps float64 `yaml:"price_tolerance_bps"`
	QtyTolerancePct   float64 `yaml:"qty_tolerance_pct"`
}

// RouterConfig tunes order-type selection and venue ranking.
type RouterConfig struct {
	LargeOrderVolumeFraction float64       `yaml:"large_order_volume_fraction"`
	TWAPSlices               int           `yaml:"twap_slices"`
	TWAPInterval             time.Duration `yaml:"twap_interval"`
	IcebergVisibleFraction   float64       `yaml:"iceberg_visible_fraction"`
	VWAPProfile              []float64     `yaml:"vwap_profile"`
	MaxVenuesPerOrder        int           `yaml:"max_venues_per_order"`
	Scoring                  VenueScoring  `yaml:"scoring"`
}

// VenueScoring weights the venue ranking blend.
type VenueScoring struct {
	Liquidity   float64 `yaml:"liquidity"`
	Fee         float64 `yaml:"fee"`
	Latency     float64 `yaml:"latency"`
	Reliability float64 `yaml:"reliability"`
}

// MonitorConfig tunes execution lifecycle tracking.
type MonitorConfig struct {
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SourceConfig declares one recommendation source adapter.
type SourceConfig struct {
	ID       string            `yaml:"id"`
	Kind     string            `yaml:"kind"` // synthetic | script | websocket
	Script   string            `yaml:"script,omitempty"`
	Endpoint string            `yaml:"endpoint,omitempty"`
	Options  map[string]string `yaml:"options,omitempty"`
}

// VenueConfig declares one venue adapter with its fee schedule.
type VenueConfig struct {
	Name      string          `yaml:"name"`
	MakerFee  decimal.Decimal `yaml:"maker_fee"`
	TakerFee  decimal.Decimal `yaml:"taker_fee"`
	LatencyMS int             `yaml:"latency_ms"`
}

// StoreConfig selects the weight-store backend. An empty DSN keeps the
// in-memory store.
type StoreConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// TelemetryConfig configures the OpenTelemetry exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Instruments: []string{"BTC-USDT"},
		Collector: CollectorConfig{
			Deadline:   2 * time.Second,
			MaxWorkers: 8,
			Interval:   5 * time.Second,
		},
		Portfolio: PortfolioConfig{
			StartingEquity: decimal.NewFromInt(100000),
		},
		Consensus: ConsensusConfig{
			ConfidenceThreshold: 0.75,
			SmoothingAlpha:      0.05,
			InitialWeight:       0.5,
		},
		Risk: RiskConfig{
			MaxPositionFraction: 0.10,
			MaxVenueFraction:    0.25,
			MaxConcentration:    0.50,
			MaxDrawdownPct:      5.0,
			OrderThrottlePerSec: 5,
			SnapshotStaleness:   5 * time.Second,
		},
		Shadow: ShadowConfig{
			ParityThreshold:   1.0,
			PriceToleranceBps: 50,
			QtyTolerancePct:   0.1,
		},
		Router: RouterConfig{
			LargeOrderVolumeFraction: 0.05,
			TWAPSlices:               4,
			TWAPInterval:             30 * time.Second,
			IcebergVisibleFraction:   0.2,
			VWAPProfile:              []float64{0.4, 0.3, 0.2, 0.1},
			MaxVenuesPerOrder:        2,
			Scoring: VenueScoring{
				Liquidity:   0.40,
				Fee:         0.25,
				Latency:     0.20,
				Reliability: 0.15,
			},
		},
		Monitor: MonitorConfig{
			AckTimeout:    5 * time.Second,
			SweepInterval: time.Second,
		},
		Sources: nil,
		Venues:  nil,
		Store:   StoreConfig{PostgresDSN: "", MigrationsDir: ""},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "",
			ServiceName:  "quorum",
		},
	}
}

// Load reads the configuration from path, falling back to QUORUM_CONFIG and
// then to defaults when no file exists. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("QUORUM_CONFIG"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	for i, instrument := range cfg.Instruments {
		cfg.Instruments[i] = schema.NormalizeInstrument(instrument)
	}

	if dsn := strings.TrimSpace(os.Getenv("QUORUM_POSTGRES_DSN")); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if endpoint := strings.TrimSpace(os.Getenv("QUORUM_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break pipeline invariants.
func (c Config) Validate() error {
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument required")
	}
	for _, instrument := range c.Instruments {
		if err := schema.ValidateInstrument(instrument); err != nil {
			return fmt.Errorf("config: instrument %q: %w", instrument, err)
		}
	}
	if c.Consensus.ConfidenceThreshold < 0 || c.Consensus.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: consensus confidence threshold outside [0,1]")
	}
	if c.Consensus.SmoothingAlpha <= 0 || c.Consensus.SmoothingAlpha >= 1 {
		return fmt.Errorf("config: smoothing alpha outside (0,1)")
	}
	if c.Shadow.ParityThreshold < 0 || c.Shadow.ParityThreshold > 1 {
		return fmt.Errorf("config: parity threshold outside [0,1]")
	}
	if c.Collector.Deadline <= 0 {
		return fmt.Errorf("config: collector deadline must be positive")
	}
	if !c.Portfolio.StartingEquity.IsPositive() {
		return fmt.Errorf("config: starting equity must be positive")
	}
	if c.Risk.MaxPositionFraction <= 0 || c.Risk.MaxPositionFraction > 1 {
		return fmt.Errorf("config: max position fraction outside (0,1]")
	}
	if c.Router.TWAPSlices <= 0 {
		return fmt.Errorf("config: twap slices must be positive")
	}
	if c.Router.IcebergVisibleFraction <= 0 || c.Router.IcebergVisibleFraction > 1 {
		return fmt.Errorf("config: iceberg visible fraction outside (0,1]")
	}
	sum := 0.0
	for _, w := range c.Router.VWAPProfile {
		if w <= 0 {
			return fmt.Errorf("config: vwap profile weights must be positive")
		}
		sum += w
	}
	if len(c.Router.VWAPProfile) > 0 && (sum < 0.999 || sum > 1.001) {
		return fmt.Errorf("config: vwap profile must sum to 1, got %.3f", sum)
	}
	if c.Monitor.AckTimeout <= 0 {
		return fmt.Errorf("config: ack timeout must be positive")
	}
	for _, venue := range c.Venues {
		if strings.TrimSpace(venue.Name) == "" {
			return fmt.Errorf("config: venue name required")
		}
	}
	for _, src := range c.Sources {
		if strings.TrimSpace(src.ID) == "" {
			return fmt.Errorf("config: source id required")
		}
		switch src.Kind {
		case "synthetic", "script", "websocket":
		default:
			return fmt.Errorf("config: source %s has unknown kind %q", src.ID, src.Kind)
		}
	}
	return nil
}
