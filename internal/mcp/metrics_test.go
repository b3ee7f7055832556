package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return newMetrics(mp.Meter(instrumentationName), zap.NewNop()), reader
}

func sumOf(t *testing.T, reader *metric.ManualReader, name string) (int64, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestMetrics_Start(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Start(ctx, "rag_query")(nil)
	elapsed := m.Start(ctx, "rag_query")(rag.ErrNoCandidates)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))

	total, ok := sumOf(t, reader, "docrag.mcp.tool.invocations_total")
	require.True(t, ok)
	assert.EqualValues(t, 2, total)

	total, ok = sumOf(t, reader, "docrag.mcp.tool.errors_total")
	require.True(t, ok)
	assert.EqualValues(t, 1, total)
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Start(ctx, "rag_ingest")
	done := m.Start(ctx, "rag_ingest")
	done(nil)

	total, ok := sumOf(t, reader, "docrag.mcp.tool.active_requests")
	require.True(t, ok)
	assert.EqualValues(t, 1, total)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"configuration", fmt.Errorf("%w: query_text is required", rag.ErrConfiguration), "validation_error"},
		{"no documents", rag.ErrNoDocuments, "not_found"},
		{"no candidates", fmt.Errorf("query: %w", rag.ErrNoCandidates), "not_found"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"embedding", rag.ErrEmbedding, "embedding_error"},
		{"synthesis", rag.ErrSynthesis, "synthesis_error"},
		{"persist", rag.ErrPersist, "storage_error"},
		{"other", errors.New("something went wrong"), "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}
