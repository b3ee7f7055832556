package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/embeddings"
	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/logging"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/redact"
	"github.com/fyrsmithlabs/docrag/internal/segment"
	"github.com/fyrsmithlabs/docrag/internal/service"
	"github.com/fyrsmithlabs/docrag/internal/source"
	"github.com/fyrsmithlabs/docrag/internal/storage"
	"github.com/fyrsmithlabs/docrag/internal/synthesis"
	"github.com/fyrsmithlabs/docrag/internal/telemetry"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

// app holds everything a command needs, built in dependency order.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	embedder embeddings.Provider
	svc      *service.Service
}

// bootstrap loads configuration and wires the engine. answers selects the
// configured synthesizer; commands that never answer questions get the
// extractive one so they need no LLM credentials.
func bootstrap(ctx context.Context, answers bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		cfg.Source.Path = dataDir
	}
	if storageDir != "" {
		cfg.Storage.Path = storageDir
	}

	a := &app{cfg: cfg}

	telCfg := telemetry.FromConfig(cfg.Telemetry, version)
	telCfg.Logs = cfg.Logging.OTEL
	a.tel, err = telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.logger, err = logging.NewLogger(logCfg, a.tel.LoggerProvider())
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if h := a.tel.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	if err := a.wire(ctx, answers); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, answers bool) error {
	cfg := a.cfg
	zl := a.logger.Underlying()

	var err error
	a.embedder, err = embeddings.NewProvider(embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
		BatchSize: cfg.Embeddings.BatchSize,
		Dimension: cfg.Embeddings.Dimension,
		RateLimit: cfg.Embeddings.RateLimit,
		Burst:     cfg.Embeddings.Burst,
		Logger:    zl.Named("embeddings"),
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	seg, err := segment.New(segment.WithSize(cfg.Segmenter.Size), segment.WithOverlap(cfg.Segmenter.Overlap))
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage.Path,
		storage.WithKeepGenerations(cfg.Storage.KeepGenerations),
		storage.WithCompression(cfg.Storage.Compress),
		storage.WithLogger(zl.Named("storage")),
		storage.WithIndexOptions(
			vectorindex.WithBatchSize(cfg.Embeddings.BatchSize),
			vectorindex.WithConcurrency(cfg.Embeddings.Concurrency),
			vectorindex.WithLogger(zl.Named("index")),
		),
	)
	if err != nil {
		return err
	}

	opts := []ingest.Option{ingest.WithLogger(zl.Named("ingest"))}
	if cfg.Redaction.Enabled {
		r, err := redact.New(redact.Options{
			ProjectDir:    cfg.Source.Path,
			AllowlistFile: cfg.Redaction.Allowlist,
			Logger:        zl.Named("redact"),
		})
		if err != nil {
			return err
		}
		opts = append(opts, ingest.WithRedactor(r))
	}
	pipeline, err := ingest.New(store, seg, a.embedder, opts...)
	if err != nil {
		return err
	}

	var synth synthesis.Synthesizer = synthesis.NewExtractive(cfg.Synthesis.MaxChars)
	if answers {
		synth, err = synthesis.New(synthesis.Config{
			Provider:    cfg.Synthesis.Provider,
			Model:       cfg.Synthesis.Model,
			BaseURL:     cfg.Synthesis.BaseURL,
			APIKey:      cfg.Synthesis.APIKey.Value(),
			MaxTokens:   cfg.Synthesis.MaxTokens,
			Temperature: cfg.Synthesis.Temperature,
			Timeout:     cfg.Synthesis.Timeout.Duration(),
			MaxChars:    cfg.Synthesis.MaxChars,
			Logger:      zl.Named("synthesis"),
		})
		if err != nil {
			return err
		}
	}

	a.svc, err = service.Open(ctx, service.Options{
		Pipeline:    pipeline,
		Embedder:    a.embedder,
		Synthesizer: synth,
		Query:       cfg.Query,
		Logger:      zl.Named("service"),
	})
	return err
}

// loadDocuments reads the data directory. A missing directory yields
// rag.ErrNoDocuments.
func (a *app) loadDocuments(ctx context.Context) ([]rag.Document, error) {
	docs, err := source.LoadDir(ctx, a.cfg.Source.Path, a.cfg.Source.Options())
	if errors.Is(err, source.ErrInvalidPath) {
		return nil, fmt.Errorf("%w in %s", rag.ErrNoDocuments, a.cfg.Source.Path)
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", rag.ErrNoDocuments, a.cfg.Source.Path)
	}
	return docs, nil
}

// close releases resources in reverse order. Shutdown gets its own
// deadline so an interrupted command still flushes telemetry.
func (a *app) close(ctx context.Context) {
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "closing embedder", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.tel != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = a.tel.Shutdown(sctx)
	}
}
