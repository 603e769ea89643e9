// Package source hosts recommendation source adapters and their registry.
package source

import (
	"context"
	"sync"

	"github.com/quorumlab/quorum/config"
	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
)

// Source produces one advisory recommendation per request. Advise must
// honor ctx cancellation; a slow source is dropped from the cycle by the
// collector, never waited on.
type Source interface {
	ID() string
	Advise(ctx context.Context, instrument string) (schema.Recommendation, error)
	Close() error
}

// Factory constructs a source adapter from its declaration.
type Factory func(ctx context.Context, cfg config.SourceConfig) (Source, error)

// Registry maintains source factories keyed by declaration kind.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty source factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for the given kind.
func (r *Registry) Register(kind string, factory Factory) {
	if factory == nil {
		panic("source factory required")
	}
	r.mu.Lock()
	r.factories[kind] = factory
	r.mu.Unlock()
}

// Create instantiates a source from its declaration.
func (r *Registry) Create(ctx context.Context, cfg config.SourceConfig) (Source, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New("source/registry", errs.CodeInvalid,
			errs.WithSource(cfg.ID), errs.WithMessage("kind "+cfg.Kind+" not registered"))
	}
	src, err := factory(ctx, cfg)
	if err != nil {
		return nil, errs.New("source/registry", errs.CodeUnavailable,
			errs.WithSource(cfg.ID), errs.WithCause(err))
	}
	return src, nil
}

// RegisterBuiltins installs the built-in source factories.
func RegisterBuiltins(reg *Registry) {
	if reg == nil {
		return
	}
	reg.Register("synthetic", NewSyntheticFactory())
	reg.Register("script", NewScriptFactory())
	reg.Register("websocket", NewStreamFactory())
}
