package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quorumlab/quorum/internal/schema"
)

// startPostgres provisions a throwaway database, or skips when no
// container runtime is available.
func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("QUORUM_SKIP_CONTAINER_TESTS") != "" {
		t.Skip("container tests disabled")
	}
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "quorum"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://postgres:secret@%s:%s/quorum?sslmode=disable", host, port.Port())
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, dsn, ""))
	// Re-running is a no-op.
	require.NoError(t, Migrate(ctx, dsn, ""))

	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = s.SaveWeights(ctx, []schema.SourceWeight{
		{SourceID: "synth-1", Weight: 0.55, LastUpdated: now},
		{SourceID: "js-momentum", Weight: 0.45, LastUpdated: now},
	})
	require.NoError(t, err)

	// Upsert overwrites.
	err = s.SaveWeights(ctx, []schema.SourceWeight{{SourceID: "synth-1", Weight: 0.6, LastUpdated: now.Add(time.Minute)}})
	require.NoError(t, err)

	rows, err := s.LoadWeights(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "js-momentum", rows[0].SourceID)
	require.Equal(t, "synth-1", rows[1].SourceID)
	require.InDelta(t, 0.6, rows[1].Weight, 1e-9)

	for i := 0; i < 3; i++ {
		err = s.RecordOutcome(ctx, OutcomeRow{
			CycleID:          fmt.Sprintf("cycle-%d", i),
			OrderID:          fmt.Sprintf("ord-%d", i),
			Instrument:       "BTC-USDT",
			Venue:            "simx",
			Status:           "filled",
			FillRatio:        1.0,
			SlippageDeltaBps: decimal.RequireFromString("1.25"),
			Quality:          0.9,
			RecordedAt:       now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	outcomes, err := s.RecentOutcomes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, "ord-2", outcomes[0].OrderID)
	require.True(t, outcomes[0].SlippageDeltaBps.Equal(decimal.RequireFromString("1.25")))
}
