package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const scope = "github.com/fyrsmithlabs/docrag/internal/embeddings"

// instrumented traces, measures and logs every call to the wrapped provider.
type instrumented struct {
	Provider
	model  string
	logger *zap.Logger
	tracer trace.Tracer

	latency metric.Float64Histogram
	texts   metric.Int64Histogram
	errs    metric.Int64Counter
}

func newInstrumented(p Provider, model string, logger *zap.Logger) *instrumented {
	return newInstrumentedWith(p, model, logger, otel.Meter(scope), otel.Tracer(scope))
}

func newInstrumentedWith(p Provider, model string, logger *zap.Logger, meter metric.Meter, tracer trace.Tracer) *instrumented {
	i := &instrumented{Provider: p, model: model, logger: logger, tracer: tracer}

	var err error
	if i.latency, err = meter.Float64Histogram("docrag.embedding.duration_seconds",
		metric.WithDescription("Embedding call latency by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		logger.Warn("registering embedding latency histogram", zap.Error(err))
	}
	if i.texts, err = meter.Int64Histogram("docrag.embedding.batch_size",
		metric.WithDescription("Texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	); err != nil {
		logger.Warn("registering embedding batch histogram", zap.Error(err))
	}
	if i.errs, err = meter.Int64Counter("docrag.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by model and operation"),
		metric.WithUnit("{error}"),
	); err != nil {
		logger.Warn("registering embedding error counter", zap.Error(err))
	}
	return i
}

// observe opens a span for op over n texts and returns the func that
// closes it and records the outcome.
func (i *instrumented) observe(ctx context.Context, op string, n int) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{attribute.String("model", i.model), attribute.String("operation", op)}
	ctx, span := i.tracer.Start(ctx, "embeddings."+op,
		trace.WithAttributes(append(attrs, attribute.Int("texts", n))...))
	start := time.Now()

	return ctx, func(err error) {
		set := metric.WithAttributes(attrs...)
		if i.latency != nil {
			i.latency.Record(ctx, time.Since(start).Seconds(), set)
		}
		if i.texts != nil {
			i.texts.Record(ctx, int64(n), set)
		}
		if err != nil {
			if i.errs != nil {
				i.errs.Add(ctx, 1, set)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			i.logger.Warn("embedding failed",
				zap.String("model", i.model), zap.String("operation", op), zap.Int("texts", n), zap.Error(err))
		}
		span.End()
	}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, done := i.observe(ctx, "embed_documents", len(texts))
	vecs, err := i.Provider.EmbedDocuments(ctx, texts)
	done(err)
	return vecs, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, done := i.observe(ctx, "embed_query", 1)
	vec, err := i.Provider.EmbedQuery(ctx, text)
	done(err)
	return vec, err
}
