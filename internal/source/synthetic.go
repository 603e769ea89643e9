package source

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/config"
	"github.com/quorumlab/quorum/internal/schema"
)

// syntheticSource emits deterministic advisories derived from the source
// id, the instrument, and the current time bucket. Two synthetic sources
// with different ids disagree often enough to exercise the voting path.
type syntheticSource struct {
	id         string
	bias       string // "long", "short", or "" for unbiased
	confidence float64
	size       decimal.Decimal
	bucket     time.Duration
	now        func() time.Time
}

// NewSyntheticFactory returns the factory for deterministic in-process
// sources used in development and testing.
func NewSyntheticFactory() Factory {
	return func(_ context.Context, cfg config.SourceConfig) (Source, error) {
		src := &syntheticSource{
			id:         cfg.ID,
			bias:       cfg.Options["bias"],
			confidence: 0.8,
			size:       decimal.RequireFromString("0.05"),
			bucket:     time.Minute,
			now:        time.Now,
		}
		if raw, ok := cfg.Options["confidence"]; ok {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, err
			}
			src.confidence = parsed
		}
		if raw, ok := cfg.Options["target_size"]; ok {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, err
			}
			src.size = parsed
		}
		if raw, ok := cfg.Options["bucket"]; ok {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, err
			}
			src.bucket = parsed
		}
		return src, nil
	}
}

func (s *syntheticSource) ID() string { return s.id }

func (s *syntheticSource) Advise(ctx context.Context, instrument string) (schema.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return schema.Recommendation{}, err
	}
	now := s.now()
	action := s.actionFor(instrument, now)
	rec := schema.Recommendation{
		SourceID:   s.id,
		Instrument: instrument,
		Action:     action,
		Confidence: s.confidence,
		Rationale:  "synthetic " + string(action),
		ProducedAt: now,
	}
	if action != schema.ActionHold {
		rec.TargetSize = s.size
	}
	return rec, nil
}

func (s *syntheticSource) Close() error { return nil }

// actionFor hashes (id, instrument, bucket index) so repeated calls inside
// one bucket agree and biased sources lean the configured way.
func (s *syntheticSource) actionFor(instrument string, now time.Time) schema.Action {
	switch s.bias {
	case "long":
		return schema.ActionBuy
	case "short":
		return schema.ActionSell
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.id))
	_, _ = h.Write([]byte(instrument))
	_, _ = h.Write([]byte(strconv.FormatInt(now.UnixNano()/int64(s.bucket), 10)))
	switch h.Sum64() % 3 {
	case 0:
		return schema.ActionBuy
	case 1:
		return schema.ActionSell
	default:
		return schema.ActionHold
	}
}
