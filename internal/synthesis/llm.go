package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

var tracer = otel.Tracer("docrag.synthesis")

const promptTemplate = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Query: %s
Answer: `

// BuildPrompt renders the question-answering prompt. Contexts are joined
// with a blank line, in the order given.
func BuildPrompt(question string, contexts []string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(contexts, "\n\n"), question)
}

// LLM answers by prompting a chat model.
type LLM struct {
	model       llms.Model
	name        string
	maxTokens   int
	temperature float64
	cfg         Config
	logger      *zap.Logger
}

// NewLLM connects to an OpenAI-compatible chat endpoint.
func NewLLM(cfg Config) (*LLM, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: synthesis model is required", rag.ErrConfiguration)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: synthesis api key is required", rag.ErrConfiguration)
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating llm client: %v", rag.ErrConfiguration, err)
	}
	return NewLLMWithModel(client, cfg), nil
}

// NewLLMWithModel wraps an existing langchaingo model.
func NewLLMWithModel(model llms.Model, cfg Config) *LLM {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{
		model:       model,
		name:        cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		cfg:         cfg,
		logger:      logger,
	}
}

// Synthesize prompts the model once. Failures are not retried.
func (l *LLM) Synthesize(ctx context.Context, question string, contexts []string) (string, error) {
	ctx, span := tracer.Start(ctx, "LLM.Synthesize")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", l.name),
		attribute.Int("contexts", len(contexts)),
	)

	if len(contexts) == 0 {
		span.SetStatus(codes.Error, "no context")
		return "", ErrNoContext
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	answer, err := llms.GenerateFromSinglePrompt(ctx, l.model, BuildPrompt(question, contexts),
		llms.WithMaxTokens(l.maxTokens),
		llms.WithTemperature(l.temperature),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		l.logger.Warn("synthesis failed", zap.String("model", l.name), zap.Error(err))
		return "", wrapFailure(err)
	}

	span.SetStatus(codes.Ok, "")
	return strings.TrimSpace(answer), nil
}
