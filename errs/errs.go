// Package errs provides structured error types and helpers for the quorum pipeline.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a pipeline error category.
type Code string

const (
	// CodeSourceUnavailable indicates a recommendation source timed out or failed;
	// the source is excluded from the cycle, never fatal.
	CodeSourceUnavailable Code = "source_unavailable"
	// CodeRiskRejected indicates the risk gate rejected the decision.
	CodeRiskRejected Code = "risk_rejected"
	// CodeShadowParity indicates the shadow replay failed parity validation.
	CodeShadowParity Code = "shadow_parity"
	// CodeVenueRejected indicates the venue rejected an order placement.
	CodeVenueRejected Code = "venue_rejected"
	// CodeVenueTimeout indicates a venue call exceeded its deadline.
	CodeVenueTimeout Code = "venue_timeout"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates a collaborator is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeInvariant indicates a broken safety guarantee. This is the one
	// category treated as fatal to the affected instrument's pipeline.
	CodeInvariant Code = "invariant"
)

// E captures structured error information produced across the pipeline.
type E struct {
	Stage      string
	Code       Code
	Instrument string
	CycleID    string
	Source     string
	Venue      string
	Metric     string
	Message    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the pipeline stage and error code.
func New(stage string, code Code, opts ...Option) *E {
	e := &E{
		Stage:      strings.TrimSpace(stage),
		Code:       code,
		Instrument: "",
		CycleID:    "",
		Source:     "",
		Venue:      "",
		Metric:     "",
		Message:    "",
		cause:      nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithInstrument records the instrument the error relates to.
func WithInstrument(instrument string) Option {
	trimmed := strings.TrimSpace(instrument)
	return func(e *E) {
		e.Instrument = trimmed
	}
}

// WithCycle records the consensus cycle the error occurred in.
func WithCycle(cycleID string) Option {
	trimmed := strings.TrimSpace(cycleID)
	return func(e *E) {
		e.CycleID = trimmed
	}
}

// WithSource records the recommendation source that produced the error.
func WithSource(sourceID string) Option {
	trimmed := strings.TrimSpace(sourceID)
	return func(e *E) {
		e.Source = trimmed
	}
}

// WithVenue records the venue involved in the failure.
func WithVenue(venue string) Option {
	trimmed := strings.TrimSpace(venue)
	return func(e *E) {
		e.Venue = trimmed
	}
}

// WithMetric names the specific property that failed validation, e.g. the
// mismatched parity component.
func WithMetric(metric string) Option {
	trimmed := strings.TrimSpace(metric)
	return func(e *E) {
		e.Metric = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	stage := strings.TrimSpace(e.Stage)
	if stage == "" {
		stage = "unknown"
	}
	parts = append(parts, "stage="+stage)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Instrument != "" {
		parts = append(parts, "instrument="+e.Instrument)
	}
	if e.CycleID != "" {
		parts = append(parts, "cycle="+e.CycleID)
	}
	if e.Source != "" {
		parts = append(parts, "source="+e.Source)
	}
	if e.Venue != "" {
		parts = append(parts, "venue="+e.Venue)
	}
	if e.Metric != "" {
		parts = append(parts, "metric="+e.Metric)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsFatal reports whether err carries the invariant code and must halt the
// affected instrument's pipeline.
func IsFatal(err error) bool {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code == CodeInvariant
	}
	return false
}

// HasCode reports whether err carries the given pipeline error code.
func HasCode(err error, code Code) bool {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code == code
	}
	return false
}

// Invariant returns a fatal error for a broken safety guarantee.
func Invariant(stage, msg string) *E {
	return New(stage, CodeInvariant, WithMessage(strings.TrimSpace(msg)))
}
