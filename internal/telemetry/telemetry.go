// Package telemetry defines the narrow logging/metrics/tracing surface used
// throughout the control plane. Components depend on these interfaces rather
// than a concrete logging library so tests can supply lightweight stubs and
// the composition root can choose a backend (clue/OTEL or no-op) once.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used across the queue, events runtime,
// and action executor. Implementations typically delegate to Clue but the
// interface stays small so tests can provide in-memory stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so callers remain agnostic of the underlying
// OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Set bundles the three observability surfaces so they can be threaded
// through constructors as a single value.
type Set struct {
	Log     Logger
	Metrics Metrics
	Trace   Tracer
}

// Noop returns a Set whose members discard everything. Useful for tests and
// components that have not been wired to a telemetry backend yet.
func Noop() Set {
	return Set{Log: NewNoopLogger(), Metrics: NewNoopMetrics(), Trace: NewNoopTracer()}
}
