package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups the pipeline instruments. All methods tolerate a nil
// receiver so call sites never branch on telemetry wiring.
type Metrics struct {
	cycles         metric.Int64Counter
	decisions      metric.Int64Counter
	riskRejections metric.Int64Counter
	parityFailures metric.Int64Counter
	ordersRouted   metric.Int64Counter
	venueEvents    metric.Int64Counter
	adviseLatency  metric.Float64Histogram
	cycleDuration  metric.Float64Histogram
}

// NewMetrics registers the pipeline instruments on the provider's meter.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("quorum/pipeline")

	cycles, err := meter.Int64Counter("quorum.cycles.total",
		metric.WithDescription("Consensus cycles started per instrument"))
	if err != nil {
		return nil, err
	}
	decisions, err := meter.Int64Counter("quorum.decisions.total",
		metric.WithDescription("Consensus decisions by action"))
	if err != nil {
		return nil, err
	}
	riskRejections, err := meter.Int64Counter("quorum.risk.rejections.total",
		metric.WithDescription("Decisions rejected by the risk gate, by reason"))
	if err != nil {
		return nil, err
	}
	parityFailures, err := meter.Int64Counter("quorum.shadow.parity_failures.total",
		metric.WithDescription("Shadow validations denied promotion, by mismatched metric"))
	if err != nil {
		return nil, err
	}
	ordersRouted, err := meter.Int64Counter("quorum.router.orders.total",
		metric.WithDescription("Order requests emitted, by venue and type"))
	if err != nil {
		return nil, err
	}
	venueEvents, err := meter.Int64Counter("quorum.monitor.venue_events.total",
		metric.WithDescription("Venue lifecycle events applied, by status"))
	if err != nil {
		return nil, err
	}
	adviseLatency, err := meter.Float64Histogram("quorum.source.advise.duration",
		metric.WithDescription("Per-source advise latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	cycleDuration, err := meter.Float64Histogram("quorum.cycle.duration",
		metric.WithDescription("Full cycle duration from collect to route"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycles:         cycles,
		decisions:      decisions,
		riskRejections: riskRejections,
		parityFailures: parityFailures,
		ordersRouted:   ordersRouted,
		venueEvents:    venueEvents,
		adviseLatency:  adviseLatency,
		cycleDuration:  cycleDuration,
	}, nil
}

// CycleStarted counts one cycle for the instrument.
func (m *Metrics) CycleStarted(ctx context.Context, instrument string) {
	if m == nil {
		return
	}
	m.cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("instrument", instrument)))
}

// DecisionMade counts one decision by action.
func (m *Metrics) DecisionMade(ctx context.Context, instrument, action string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", instrument),
		attribute.String("action", action)))
}

// RiskRejected counts one rejected verdict by reason.
func (m *Metrics) RiskRejected(ctx context.Context, instrument, reason string) {
	if m == nil {
		return
	}
	m.riskRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", instrument),
		attribute.String("reason", reason)))
}

// ParityFailed counts one denied promotion by mismatched metric.
func (m *Metrics) ParityFailed(ctx context.Context, instrument, mismatch string) {
	if m == nil {
		return
	}
	m.parityFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("instrument", instrument),
		attribute.String("metric", mismatch)))
}

// OrderRouted counts one emitted order request.
func (m *Metrics) OrderRouted(ctx context.Context, venue, orderType string) {
	if m == nil {
		return
	}
	m.ordersRouted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("order_type", orderType)))
}

// VenueEvent counts one applied lifecycle event.
func (m *Metrics) VenueEvent(ctx context.Context, venue, status string) {
	if m == nil {
		return
	}
	m.venueEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("status", status)))
}

// AdviseLatency records one source advise round trip.
func (m *Metrics) AdviseLatency(ctx context.Context, sourceID string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.adviseLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", sourceID)))
}

// CycleDuration records one full cycle duration.
func (m *Metrics) CycleDuration(ctx context.Context, instrument string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("instrument", instrument)))
}
