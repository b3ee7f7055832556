package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry records spans and metrics in memory.
type TestTelemetry struct {
	*Telemetry

	Spans  *tracetest.SpanRecorder
	Reader *sdkmetric.ManualReader
}

// NewTestTelemetry returns enabled telemetry backed by in-memory
// providers. Call Install to route otel.Tracer and otel.Meter to it.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	t := &Telemetry{
		config:         cfg,
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	t.healthy.Store(true)
	t.addStage("trace", t.tracerProvider.ForceFlush, t.tracerProvider.Shutdown)
	t.addStage("metric", t.meterProvider.ForceFlush, t.meterProvider.Shutdown)
	return &TestTelemetry{Telemetry: t, Spans: rec, Reader: reader}
}

// Install makes the in-memory providers global. The returned func
// restores the previous ones.
func (tt *TestTelemetry) Install() (restore func()) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	otel.SetTracerProvider(tt.tracerProvider)
	otel.SetMeterProvider(tt.meterProvider)
	return func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	}
}

// Span returns the first ended span called name, or nil.
func (tt *TestTelemetry) Span(name string) sdktrace.ReadOnlySpan {
	for _, s := range tt.Spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Attr returns the value of key on span name, and whether it was found.
func (tt *TestTelemetry) Attr(name string, key attribute.Key) (attribute.Value, bool) {
	s := tt.Span(name)
	if s == nil {
		return attribute.Value{}, false
	}
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// RequireSpan fails tb unless a span called name ended.
func (tt *TestTelemetry) RequireSpan(tb testing.TB, name string) sdktrace.ReadOnlySpan {
	tb.Helper()
	s := tt.Span(name)
	if s == nil {
		var names []string
		for _, e := range tt.Spans.Ended() {
			names = append(names, e.Name())
		}
		tb.Fatalf("span %q not recorded; have %v", name, names)
	}
	return s
}

// Metric collects and returns the named metric's data, or nil.
func (tt *TestTelemetry) Metric(tb testing.TB, name string) metricdata.Aggregation {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := tt.Reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collecting metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	return nil
}
