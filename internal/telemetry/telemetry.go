// Package telemetry provides the logging, metrics, and tracing capability
// interfaces used across the orchestrator. Components depend on these small
// interfaces rather than on Clue or OTEL directly so unit tests can supply
// no-op implementations without pulling in exporters.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured, context-scoped logger used throughout the
// orchestrator. Implementations typically delegate to goa.design/clue/log.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records counters, timers, and gauges for workflow and adapter
// observability.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Span is a single unit of tracing work.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, attrs ...any)
}

// Tracer starts and retrieves spans.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Telemetry bundles the three capabilities so callers can wire one value
// through constructors instead of three.
type Telemetry struct {
	Logger  Logger
	Metrics Metrics
	Tracer  Tracer
}
