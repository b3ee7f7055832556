// Package synthesis turns a question and ranked context passages into an answer.
//
// Two synthesizers are provided. LLM prompts an OpenAI-compatible chat
// endpoint (the HuggingFace inference router, vLLM, Ollama, OpenAI itself).
// Extractive needs no model: it picks the context sentences that best
// overlap the question.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// Provider names accepted by New.
const (
	ProviderLLM        = "llm"
	ProviderExtractive = "extractive"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxTokens = 512
	DefaultTimeout   = 60 * time.Second
	DefaultMaxChars  = 1200
)

// ErrNoContext is returned when a synthesizer is given no context passages.
var ErrNoContext = fmt.Errorf("%w: no context passages", rag.ErrSynthesis)

// Synthesizer produces an answer from a question and ordered context texts.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, contexts []string) (string, error)
}

// Config selects and configures a synthesizer.
type Config struct {
	// Provider is "llm" (default) or "extractive".
	Provider string
	// Model is the chat model name, for example
	// "mistralai/Mistral-7B-Instruct-v0.3".
	Model string
	// BaseURL of the OpenAI-compatible API. Empty uses api.openai.com.
	BaseURL string
	APIKey  string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// MaxChars bounds the extractive answer length.
	MaxChars int

	Logger *zap.Logger
}

// New builds the synthesizer named by cfg.Provider.
func New(cfg Config) (Synthesizer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLLM:
		s, err := NewLLM(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("synthesizer created",
			zap.String("provider", ProviderLLM),
			zap.String("model", cfg.Model),
		)
		return s, nil
	case ProviderExtractive:
		logger.Info("synthesizer created", zap.String("provider", ProviderExtractive))
		return NewExtractive(cfg.MaxChars), nil
	default:
		return nil, fmt.Errorf("%w: unsupported synthesis provider %q (use llm or extractive)", rag.ErrConfiguration, cfg.Provider)
	}
}

// wrapFailure marks err as a synthesis failure unless it already is one.
func wrapFailure(err error) error {
	if err == nil || errors.Is(err, rag.ErrSynthesis) {
		return err
	}
	return fmt.Errorf("%w: %v", rag.ErrSynthesis, err)
}
