package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}

	return fields
}

// Context key types
type runCtxKey struct{}
type phaseCtxKey struct{}
type loggerCtxKey struct{}

// WithRunID adds the workflow run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(runCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithPhase adds the active workflow phase to context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext extracts the active phase from context.
func PhaseFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
