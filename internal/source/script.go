package source

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/config"
	"github.com/quorumlab/quorum/internal/schema"
)

// scriptSource runs a JavaScript advisory module. The module exports
// create(env) returning a handler with advise(instrument); advise returns
// {action, confidence, target_size, rationale}.
//
// A goja runtime is single-threaded, so every call into the handler holds
// the source mutex.
type scriptSource struct {
	id      string
	mu      sync.Mutex
	rt      *goja.Runtime
	handler *goja.Object
	advise  goja.Callable
	now     func() time.Time
}

type scriptAdvice struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	TargetSize float64 `json:"target_size"`
	Rationale  string  `json:"rationale"`
}

// NewScriptFactory returns the factory for JavaScript-backed sources.
func NewScriptFactory() Factory {
	return func(_ context.Context, cfg config.SourceConfig) (Source, error) {
		if strings.TrimSpace(cfg.Script) == "" {
			return nil, fmt.Errorf("script source %s: script path required", cfg.ID)
		}
		return newScriptSource(cfg)
	}
}

func newScriptSource(cfg config.SourceConfig) (*scriptSource, error) {
	// #nosec G304 -- path comes from the operator's own configuration.
	raw, err := os.ReadFile(cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("script source %s: read %q: %w", cfg.ID, cfg.Script, err)
	}
	prog, err := goja.Compile(cfg.Script, string(raw), true)
	if err != nil {
		return nil, fmt.Errorf("script source %s: compile %q: %w", cfg.ID, cfg.Script, err)
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	exports, err := runAdvisoryModule(rt, prog)
	if err != nil {
		return nil, fmt.Errorf("script source %s: %w", cfg.ID, err)
	}

	create, ok := goja.AssertFunction(exports.Get("create"))
	if !ok {
		return nil, fmt.Errorf("script source %s: module must export create(env)", cfg.ID)
	}
	env := rt.NewObject()
	for key, value := range cfg.Options {
		if err := env.Set(key, value); err != nil {
			return nil, fmt.Errorf("script source %s: env init: %w", cfg.ID, err)
		}
	}
	created, err := create(goja.Undefined(), env)
	if err != nil {
		return nil, fmt.Errorf("script source %s: create failed: %w", cfg.ID, err)
	}
	handler := created.ToObject(rt)
	if handler == nil {
		return nil, fmt.Errorf("script source %s: create returned non-object", cfg.ID)
	}
	advise, ok := goja.AssertFunction(handler.Get("advise"))
	if !ok {
		return nil, fmt.Errorf("script source %s: handler must define advise(instrument)", cfg.ID)
	}

	return &scriptSource{
		id:      cfg.ID,
		rt:      rt,
		handler: handler,
		advise:  advise,
		now:     time.Now,
	}, nil
}

func runAdvisoryModule(rt *goja.Runtime, program *goja.Program) (*goja.Object, error) {
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}
	object := module.Get("exports").ToObject(rt)
	if object == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}

func (s *scriptSource) ID() string { return s.id }

func (s *scriptSource) Advise(ctx context.Context, instrument string) (schema.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return schema.Recommendation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.advise(s.handler, s.rt.ToValue(instrument))
	if err != nil {
		return schema.Recommendation{}, fmt.Errorf("script source %s: advise: %w", s.id, err)
	}
	var advice scriptAdvice
	if err := s.rt.ExportTo(value, &advice); err != nil {
		return schema.Recommendation{}, fmt.Errorf("script source %s: advise result invalid: %w", s.id, err)
	}

	action, err := schema.ParseAction(advice.Action)
	if err != nil {
		return schema.Recommendation{}, fmt.Errorf("script source %s: %w", s.id, err)
	}
	rec := schema.Recommendation{
		SourceID:   s.id,
		Instrument: instrument,
		Action:     action,
		Confidence: advice.Confidence,
		Rationale:  advice.Rationale,
		ProducedAt: s.now(),
	}
	if advice.TargetSize > 0 {
		rec.TargetSize = decimal.NewFromFloat(advice.TargetSize)
	}
	return rec, nil
}

func (s *scriptSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rt.Interrupt("source closed")
	return nil
}
