// Package venue defines the uniform venue adapter contract and the
// built-in simulated venue.
package venue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
)

// Health is one venue's current standing as seen by the router.
type Health struct {
	Healthy     bool
	Reliability float64 // [0,1]
	LatencyMS   int
	TakerFee    decimal.Decimal
}

// Adapter is the uniform surface every venue exposes: order placement
// and cancellation, a lifecycle event stream keyed by order id, and
// point-in-time book snapshots.
type Adapter interface {
	schema.BookProvider

	Name() string
	Place(ctx context.Context, req schema.OrderRequest) error
	Cancel(ctx context.Context, orderID string) error
	Events() <-chan schema.VenueEvent
	Health() Health
	Close() error
}

// PlaceWithRetry retries transient placement failures with exponential
// backoff, up to maxElapsed. Venue rejections are final and returned
// immediately; only transport-level unavailability is retried.
func PlaceWithRetry(ctx context.Context, adapter Adapter, req schema.OrderRequest, maxElapsed time.Duration) error {
	backoffCfg := backoff.NewExponentialBackOff()
	deadline := time.Now().Add(maxElapsed)

	for {
		err := adapter.Place(ctx, req)
		if err == nil {
			return nil
		}
		if errs.HasCode(err, errs.CodeVenueRejected) {
			return err
		}
		sleep := backoffCfg.NextBackOff()
		if time.Now().Add(sleep).After(deadline) {
			return errs.New("venue", errs.CodeVenueTimeout,
				errs.WithVenue(req.Venue),
				errs.WithMessage("placement retries exhausted"),
				errs.WithCause(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
