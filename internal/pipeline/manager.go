package pipeline

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/pool"

	"github.com/quorumlab/quorum/internal/monitor"
	"github.com/quorumlab/quorum/internal/observability"
)

// Manager owns one Instance per instrument plus the shared monitor
// loops. Terminal outcomes are dispatched to the owning instrument's
// instance; outcomes for unknown instruments are logged and dropped.
type Manager struct {
	deps      Deps
	instances map[string]*Instance
}

// NewManager builds an instance per instrument, registers the venue
// cancel paths with the monitor, and subscribes the outcome feedback
// edge.
func NewManager(instruments []string, deps Deps) *Manager {
	m := &Manager{
		deps:      deps,
		instances: make(map[string]*Instance, len(instruments)),
	}
	for _, instrument := range instruments {
		m.instances[instrument] = NewInstance(instrument, deps)
	}
	for name, adapter := range deps.Venues {
		deps.Monitor.RegisterVenue(name, adapter)
	}
	deps.Monitor.Subscribe(m.dispatchOutcome)
	return m
}

// Instance returns the pipeline for one instrument, or nil.
func (m *Manager) Instance(instrument string) *Instance {
	return m.instances[instrument]
}

// Run starts one monitor loop per venue event stream and one cycle loop
// per instrument, then blocks until ctx ends. An invariant violation
// halts only its own instrument; the remaining instances keep running,
// and the fatal error surfaces from Run after shutdown.
func (m *Manager) Run(ctx context.Context) error {
	runners := pool.New().WithErrors()
	for _, adapter := range m.deps.Venues {
		events := adapter.Events()
		runners.Go(func() error {
			m.deps.Monitor.Run(ctx, events)
			return nil
		})
	}
	for _, instance := range m.instances {
		inst := instance
		runners.Go(func() error {
			err := inst.Run(ctx)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return runners.Wait()
}

func (m *Manager) dispatchOutcome(outcome monitor.Outcome) {
	instance, ok := m.instances[outcome.Record.Instrument]
	if !ok {
		observability.Log().Error("outcome for unknown instrument",
			observability.F("instrument", outcome.Record.Instrument),
			observability.F("order", outcome.Record.OrderID))
		return
	}
	instance.onOutcome(context.Background(), outcome)
}
