// Package telemetry defines the Metrics Sink port and the structured
// logging and tracing abstractions the execution core uses throughout the
// retry orchestrator, wave executor, and execution service. Interfaces are
// intentionally small so tests can supply lightweight stubs instead of
// pulling in an OTEL or Prometheus dependency.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the core. Implementations
// typically delegate to Clue or a Prometheus-adjacent logger, but the
// interface stays small so tests can provide stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics is the Metrics Sink port: counter, timer, and gauge helpers for the
// named metrics the retry orchestrator, wave executor, and execution service
// emit (attempt/wave/execution counts and durations, active executions).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so core code stays agnostic of the
// underlying tracing provider.
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

// Names of the metrics the core emits. Sinks are free to ignore tags they
// don't recognize; these constants exist so callers never typo a metric name
// across the retry, waveexec, and execsvc packages.
const (
	MetricAttemptsTotal    = "atomexec.attempts.total"
	MetricAttemptDuration  = "atomexec.attempt.duration"
	MetricRetriesExhausted = "atomexec.retries.exhausted"
	MetricWaveDuration     = "atomexec.wave.duration"
	MetricWaveAtomsFailed  = "atomexec.wave.atoms_failed"
	MetricExecutionsActive = "atomexec.executions.active"
	MetricExecutionResult  = "atomexec.execution.result"
	MetricCostGuardDenied  = "atomexec.costguard.denied"
)
