package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

const instrumentationName = "github.com/fyrsmithlabs/docrag/internal/mcp"

var durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Metrics counts tool calls. An instrument that fails to register stays
// nil and is skipped.
type Metrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("registering instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &Metrics{}
	var err error
	m.calls, err = meter.Int64Counter("docrag.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls"), metric.WithUnit("{call}"))
	warn("invocations_total", err)
	m.failures, err = meter.Int64Counter("docrag.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error"), metric.WithUnit("{error}"))
	warn("errors_total", err)
	m.latency, err = meter.Float64Histogram("docrag.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	warn("duration_seconds", err)
	m.inFlight, err = meter.Int64UpDownCounter("docrag.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"), metric.WithUnit("{call}"))
	warn("active_requests", err)
	return m
}

// Start marks a call to tool as in flight. The returned func records its
// outcome and must be called exactly once.
func (m *Metrics) Start(ctx context.Context, tool string) func(error) time.Duration {
	set := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, set)
	}
	start := time.Now()
	return func(err error) time.Duration {
		elapsed := time.Since(start)
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, set)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, set)
		}
		if m.latency != nil {
			m.latency.Record(ctx, elapsed.Seconds(), set)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", categorizeError(err)),
			))
		}
		return elapsed
	}
}

// categorizeError maps err onto a bounded reason label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rag.ErrConfiguration):
		return "validation_error"
	case errors.Is(err, rag.ErrNoDocuments), errors.Is(err, rag.ErrNoCandidates):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, rag.ErrEmbedding):
		return "embedding_error"
	case errors.Is(err, rag.ErrSynthesis):
		return "synthesis_error"
	case errors.Is(err, rag.ErrPersist):
		return "storage_error"
	}
	return "internal_error"
}
