package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the OTel providers. An exporter that cannot be created
// degrades telemetry instead of failing startup; the signal it would have
// carried falls back to the global no-op provider.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	// stages run in order on flush and shutdown.
	stages []stage

	healthy atomic.Bool
	mu      sync.Mutex
	reasons []string
}

type stage struct {
	name     string
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

// New builds the enabled providers and installs them globally, so
// packages calling otel.Tracer and otel.Meter export through them.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.healthy.Store(true)
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if exp, err := newSpanExporter(ctx, cfg); err != nil {
		t.setDegraded("trace exporter: %v", err)
	} else {
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler(cfg.SampleRate)),
		)
		t.addStage("trace", t.tracerProvider.ForceFlush, t.tracerProvider.Shutdown)
		otel.SetTracerProvider(t.tracerProvider)
	}

	if cfg.Metrics.Enabled {
		if exp, err := newMetricExporter(ctx, cfg); err != nil {
			t.setDegraded("metric exporter: %v", err)
		} else {
			t.meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithResource(res),
				sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
					sdkmetric.WithInterval(cfg.Metrics.ExportInterval.Duration()))),
			)
			t.addStage("metric", t.meterProvider.ForceFlush, t.meterProvider.Shutdown)
			otel.SetMeterProvider(t.meterProvider)
		}
	}

	if cfg.Logs {
		if exp, err := newLogExporter(ctx, cfg); err != nil {
			t.setDegraded("log exporter: %v", err)
		} else {
			lp := sdklog.NewLoggerProvider(
				sdklog.WithResource(res),
				sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			)
			t.logProvider = lp
			t.addStage("log", lp.ForceFlush, lp.Shutdown)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) addStage(name string, flush, shutdown func(context.Context) error) {
	t.stages = append(t.stages, stage{name: name, flush: flush, shutdown: shutdown})
}

// Tracer returns a tracer from the owned provider, or from the global one
// when tracing is off.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter from the owned provider, or from the global one.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider feeds the zap OTel bridge. Nil unless log export is on.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

// SetLoggerProvider replaces the bridge provider, mainly for tests.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// ForceFlush exports everything pending.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, s := range t.stages {
		if err := s.flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every provider. Without a deadline on ctx
// it is bounded by ShutdownTimeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	for _, s := range t.stages {
		if err := s.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", s.name, err))
		}
	}
	t.healthy.Store(false)
	return errors.Join(errs...)
}

// HealthStatus reports whether telemetry is running and why it degraded.
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Health returns the current status. Multiple degradation reasons are
// joined with "; ".
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := HealthStatus{Healthy: t.healthy.Load(), Degraded: len(t.reasons) > 0}
	for i, r := range t.reasons {
		if i > 0 {
			h.Reason += "; "
		}
		h.Reason += r
	}
	return h
}

// IsEnabled reports whether telemetry is configured on and not shut down.
func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.config != nil && t.config.Enabled && t.healthy.Load()
}

func (t *Telemetry) setDegraded(format string, args ...any) {
	t.mu.Lock()
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}
