package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlab/quorum/internal/schema"
)

// PostgresStore persists weights and outcomes in Postgres via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect weight store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping weight store: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const (
	weightUpsertSQL = `
INSERT INTO source_weights (source_id, weight, last_updated)
VALUES (@source_id, @weight, @last_updated)
ON CONFLICT (source_id) DO UPDATE
SET weight = EXCLUDED.weight,
    last_updated = EXCLUDED.last_updated;
`

	weightSelectSQL = `
SELECT source_id, weight, last_updated
FROM source_weights
ORDER BY source_id;
`

	outcomeInsertSQL = `
INSERT INTO outcome_history (
    cycle_id,
    order_id,
    instrument,
    venue,
    status,
    fill_ratio,
    slippage_delta_bps,
    quality,
    recorded_at
)
VALUES (
    @cycle_id,
    @order_id,
    @instrument,
    @venue,
    @status,
    @fill_ratio,
    @slippage_delta_bps,
    @quality,
    @recorded_at
);
`

	outcomeSelectSQL = `
SELECT cycle_id, order_id, instrument, venue, status,
       fill_ratio, slippage_delta_bps, quality, recorded_at
FROM outcome_history
ORDER BY recorded_at DESC
LIMIT @limit;
`
)

func (s *PostgresStore) LoadWeights(ctx context.Context) ([]schema.SourceWeight, error) {
	rows, err := s.pool.Query(ctx, weightSelectSQL)
	if err != nil {
		return nil, fmt.Errorf("load weights: %w", err)
	}
	defer rows.Close()

	var out []schema.SourceWeight
	for rows.Next() {
		var row schema.SourceWeight
		if err := rows.Scan(&row.SourceID, &row.Weight, &row.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan weight row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weight rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveWeights(ctx context.Context, rows []schema.SourceWeight) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(weightUpsertSQL, pgx.NamedArgs{
			"source_id":    row.SourceID,
			"weight":       row.Weight,
			"last_updated": row.LastUpdated,
		})
	}
	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save weights: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, row OutcomeRow) error {
	_, err := s.pool.Exec(ctx, outcomeInsertSQL, pgx.NamedArgs{
		"cycle_id":           row.CycleID,
		"order_id":           row.OrderID,
		"instrument":         row.Instrument,
		"venue":              row.Venue,
		"status":             row.Status,
		"fill_ratio":         row.FillRatio,
		"slippage_delta_bps": row.SlippageDeltaBps,
		"quality":            row.Quality,
		"recorded_at":        row.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, outcomeSelectSQL, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var row OutcomeRow
		if err := rows.Scan(&row.CycleID, &row.OrderID, &row.Instrument, &row.Venue,
			&row.Status, &row.FillRatio, &row.SlippageDeltaBps, &row.Quality, &row.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
