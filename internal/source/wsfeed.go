package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/config"
	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/observability"
	"github.com/quorumlab/quorum/internal/schema"
)

// streamSource consumes a push feed of advisory frames over a WebSocket
// and serves the latest frame per instrument. The read loop redials with
// exponential backoff; Advise never blocks on the network.
type streamSource struct {
	id         string
	endpoint   string
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	latest map[string]schema.Recommendation

	cancel context.CancelFunc
	done   chan struct{}
}

type advisoryFrame struct {
	Instrument string    `json:"instrument"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	TargetSize string    `json:"target_size"`
	Rationale  string    `json:"rationale"`
	ProducedAt time.Time `json:"produced_at"`
}

// NewStreamFactory returns the factory for WebSocket push-feed sources.
func NewStreamFactory() Factory {
	return func(ctx context.Context, cfg config.SourceConfig) (Source, error) {
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return nil, fmt.Errorf("stream source %s: endpoint required", cfg.ID)
		}
		staleAfter := 30 * time.Second
		if raw, ok := cfg.Options["stale_after"]; ok {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("stream source %s: stale_after: %w", cfg.ID, err)
			}
			staleAfter = parsed
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		src := &streamSource{
			id:         cfg.ID,
			endpoint:   cfg.Endpoint,
			staleAfter: staleAfter,
			now:        time.Now,
			latest:     make(map[string]schema.Recommendation),
			cancel:     cancel,
			done:       make(chan struct{}),
		}
		go src.run(runCtx)
		return src, nil
	}
}

func (s *streamSource) ID() string { return s.id }

// Advise serves the most recent frame for the instrument. A missing or
// stale frame counts as a non-response for the cycle.
func (s *streamSource) Advise(ctx context.Context, instrument string) (schema.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return schema.Recommendation{}, err
	}
	s.mu.RLock()
	rec, ok := s.latest[instrument]
	s.mu.RUnlock()
	if !ok {
		return schema.Recommendation{}, errs.New("source/stream", errs.CodeSourceUnavailable,
			errs.WithSource(s.id), errs.WithInstrument(instrument), errs.WithMessage("no frame received"))
	}
	if age := s.now().Sub(rec.ProducedAt); age > s.staleAfter {
		return schema.Recommendation{}, errs.New("source/stream", errs.CodeSourceUnavailable,
			errs.WithSource(s.id), errs.WithInstrument(instrument),
			errs.WithMessage(fmt.Sprintf("last frame stale by %s", age-s.staleAfter)))
	}
	return rec, nil
}

func (s *streamSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// run maintains the feed connection with automatic reconnection.
func (s *streamSource) run(ctx context.Context) {
	defer close(s.done)
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(ctx, s.endpoint, nil)
		if err != nil {
			observability.Log().Error("advisory feed dial failed",
				observability.F("source", s.id), observability.F("error", err.Error()))
			if !s.sleep(ctx, backoffCfg.NextBackOff()) {
				return
			}
			continue
		}
		backoffCfg.Reset()

		if err := s.readLoop(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
			observability.Log().Error("advisory feed read loop ended",
				observability.F("source", s.id), observability.F("error", err.Error()))
		}
		_ = conn.Close(websocket.StatusNormalClosure, "redial")

		if !s.sleep(ctx, backoffCfg.NextBackOff()) {
			return
		}
	}
}

func (s *streamSource) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *streamSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		var frame advisoryFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			observability.Log().Debug("advisory frame discarded",
				observability.F("source", s.id), observability.F("error", err.Error()))
			continue
		}
		rec, err := s.toRecommendation(frame)
		if err != nil {
			observability.Log().Debug("advisory frame invalid",
				observability.F("source", s.id), observability.F("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.latest[rec.Instrument] = rec
		s.mu.Unlock()
	}
}

func (s *streamSource) toRecommendation(frame advisoryFrame) (schema.Recommendation, error) {
	action, err := schema.ParseAction(frame.Action)
	if err != nil {
		return schema.Recommendation{}, err
	}
	rec := schema.Recommendation{
		SourceID:   s.id,
		Instrument: frame.Instrument,
		Action:     action,
		Confidence: frame.Confidence,
		Rationale:  frame.Rationale,
		ProducedAt: frame.ProducedAt,
	}
	if rec.ProducedAt.IsZero() {
		rec.ProducedAt = s.now()
	}
	if frame.TargetSize != "" {
		size, err := decimal.NewFromString(frame.TargetSize)
		if err != nil {
			return schema.Recommendation{}, fmt.Errorf("target_size %q: %w", frame.TargetSize, err)
		}
		rec.TargetSize = size
	}
	if err := rec.Validate(); err != nil {
		return schema.Recommendation{}, err
	}
	return rec, nil
}
