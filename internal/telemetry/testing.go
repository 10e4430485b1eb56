package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry provides in-memory telemetry for testing.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
}

// NewTestTelemetry creates telemetry with an in-memory span recorder.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spanRecorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(spanRecorder))

	tel := &Telemetry{
		config:         cfg,
		tracerProvider: tp,
	}
	tel.healthy.Store(true)

	return &TestTelemetry{
		Telemetry:    tel,
		SpanRecorder: spanRecorder,
	}
}

// Spans returns all recorded spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			got := attrValue(attr.Value)
			if got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}
