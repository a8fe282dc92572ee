// Package telemetry provides the logging, metrics, and tracing interfaces
// used throughout the orchestrator, plus Clue/OTEL-backed and no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger emits structured log lines keyed by alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records counters, timers, and gauges tagged by key/value pairs.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer starts and retrieves spans.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is a single unit of traced work.
type Span interface {
	End()
	AddEvent(name string, keyvals ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error)
}

// clueSpan wraps an OTEL trace span.
type clueSpan struct{ span trace.Span }

func (s *clueSpan) End() { s.span.End() }

func (s *clueSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(keyvals)...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *clueSpan) RecordError(err error) { s.span.RecordError(err) }
