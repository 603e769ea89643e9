package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quorum.yaml")
	doc := `
instruments: ["ETH-USDT", "BTC-USDT"]
collector:
  deadline: 750ms
consensus:
  confidence_threshold: 0.8
router:
  twap_slices: 6
  vwap_profile: [0.5, 0.3, 0.2]
sources:
  - id: momentum
    kind: synthetic
venues:
  - name: sim-a
    maker_fee: "0.001"
    taker_fee: "0.002"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"ETH-USDT", "BTC-USDT"}, cfg.Instruments)
	require.Equal(t, 750*time.Millisecond, cfg.Collector.Deadline)
	require.InDelta(t, 0.8, cfg.Consensus.ConfidenceThreshold, 1e-9)
	require.Equal(t, 6, cfg.Router.TWAPSlices)
	// untouched sections keep defaults
	require.InDelta(t, 1.0, cfg.Shadow.ParityThreshold, 1e-9)
	require.Equal(t, 5*time.Second, cfg.Monitor.AckTimeout)
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quorum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus:\n  confidence_threshold: 1.5\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsUnknownSourceKind(t *testing.T) {
	cfg := Default()
	cfg.Sources = []SourceConfig{{ID: "x", Kind: "grpc"}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSkewedVWAPProfile(t *testing.T) {
	cfg := Default()
	cfg.Router.VWAPProfile = []float64{0.9, 0.3}
	require.Error(t, cfg.Validate())
}
