package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = fmt.Errorf("%w: empty or nil input texts", rag.ErrEmbedding)

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = fmt.Errorf("%w: invalid embeddings configuration", rag.ErrConfiguration)

	// ErrEmbeddingFailed indicates the provider could not produce embeddings.
	ErrEmbeddingFailed = fmt.Errorf("%w: provider request failed", rag.ErrEmbedding)
)

// Provider names accepted by NewProvider.
const (
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
	ProviderOpenAI    = "openai"
	ProviderHash      = "hash"
)

// Provider generates embeddings.
type Provider interface {
	// EmbedDocuments embeds a batch of texts, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider is one of fastembed (default), tei, openai or hash.
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the server URL for tei and openai.
	BaseURL string
	// APIKey authenticates against tei (optional) and openai.
	APIKey string
	// CacheDir is the model cache directory for fastembed.
	CacheDir string
	// BatchSize is the number of texts per request for openai.
	BatchSize int
	// Dimension overrides model-based dimension detection. It sets the
	// vector size for the hash provider.
	Dimension int
	// RateLimit bounds provider calls per second. Zero disables limiting.
	RateLimit float64
	// Burst is the limiter burst size. Defaults to 1.
	Burst int
	// Logger receives provider diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// NewProvider creates the configured provider.
func NewProvider(cfg Config) (Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderFastEmbed, "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case ProviderTEI:
		p, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
		})
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			BatchSize: cfg.BatchSize,
			Dimension: cfg.Dimension,
		})
	case ProviderHash:
		p, err = NewHashProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = strings.ToLower(cfg.Provider)
	}
	p = newInstrumented(p, model, logger)
	if cfg.RateLimit > 0 {
		p = NewRateLimited(p, cfg.RateLimit, cfg.Burst)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
		zap.Float64("rate_limit", cfg.RateLimit),
	)
	return p, nil
}

// detectDimensionFromModel guesses the embedding dimension from a model
// name. Unknown models fall back to 384.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownModelDimensions[model]; ok {
		return dim
	}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "text-embedding-3-large"):
		return 3072
	case strings.Contains(m, "text-embedding"):
		return 1536
	case strings.Contains(m, "large"):
		return 1024
	case strings.Contains(m, "base"), strings.Contains(m, "mpnet"):
		return 768
	default:
		return 384
	}
}

// knownModelDimensions lists models whose dimension is not obvious from the name.
var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                  384,
	"BAAI/bge-small-en":                       384,
	"BAAI/bge-base-en-v1.5":                   768,
	"BAAI/bge-base-en":                        768,
	"BAAI/bge-small-zh-v1.5":                  512,
	"BAAI/bge-m3":                             1024,
	"sentence-transformers/all-MiniLM-L6-v2":  384,
	"sentence-transformers/all-mpnet-base-v2": 768,
	"fast-bge-small-en-v1.5":                  384,
	"fast-bge-small-en":                       384,
	"fast-bge-base-en-v1.5":                   768,
	"fast-bge-base-en":                        768,
	"fast-bge-small-zh-v1.5":                  512,
	"fast-all-MiniLM-L6-v2":                   384,
}

// wrapFailure tags provider errors with ErrEmbeddingFailed unless they
// already carry an embedding or context error.
func wrapFailure(err error) error {
	if err == nil || errors.Is(err, rag.ErrEmbedding) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", rag.ErrEmbedding, err)
	}
	return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
}
