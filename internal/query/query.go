// Package query answers a question from the vector index.
//
// Query is stateless: it embeds the question, retrieves a candidate pool,
// drops candidates below the similarity cutoff, keeps the best MaxSelected
// by score and hands their texts to a synthesizer.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

const (
	DefaultCandidatePool    = 10
	DefaultSimilarityCutoff = 0.5
	DefaultMaxSelected      = 8
)

var tracer = otel.Tracer("docrag.query")

// Config bounds retrieval and selection.
type Config struct {
	// CandidatePool is how many nearest neighbours are retrieved before filtering.
	CandidatePool int `json:"candidate_pool" koanf:"candidate_pool"`
	// SimilarityCutoff drops candidates scoring strictly below it.
	SimilarityCutoff float64 `json:"similarity_cutoff" koanf:"similarity_cutoff"`
	// MaxSelected caps the number of segments passed to synthesis.
	MaxSelected int `json:"max_selected" koanf:"max_selected"`
}

// DefaultConfig returns pool 10, cutoff 0.5 and at most 8 selected segments.
func DefaultConfig() Config {
	return Config{
		CandidatePool:    DefaultCandidatePool,
		SimilarityCutoff: DefaultSimilarityCutoff,
		MaxSelected:      DefaultMaxSelected,
	}
}

// Validate checks the bounds.
func (c Config) Validate() error {
	if c.CandidatePool <= 0 {
		return fmt.Errorf("%w: candidate_pool must be positive, got %d", rag.ErrConfiguration, c.CandidatePool)
	}
	if c.MaxSelected <= 0 {
		return fmt.Errorf("%w: max_selected must be positive, got %d", rag.ErrConfiguration, c.MaxSelected)
	}
	if c.SimilarityCutoff < -1 || c.SimilarityCutoff > 1 {
		return fmt.Errorf("%w: similarity_cutoff must be within [-1, 1], got %g", rag.ErrConfiguration, c.SimilarityCutoff)
	}
	return nil
}

// Retriever is the read side of the vector index.
type Retriever interface {
	Retrieve(ctx context.Context, query []float32, topK int) ([]vectorindex.Hit, error)
}

// QueryEmbedder embeds the question.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Synthesizer produces an answer from the question and ordered context texts.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, contexts []string) (string, error)
}

// Source is one segment used to answer, in the order given to synthesis.
type Source struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
	// Identity is the owning document identity.
	Identity string `json:"source"`
}

// Result is a synthesized answer with the sources it was built from.
type Result struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Query runs one question against idx. It fails with rag.ErrNoCandidates
// when the index is empty or nothing reaches the cutoff.
func Query(ctx context.Context, question string, idx Retriever, embedder QueryEmbedder, synth Synthesizer, cfg Config) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Query")
	defer span.End()
	span.SetAttributes(
		attribute.Int("candidate_pool", cfg.CandidatePool),
		attribute.Float64("similarity_cutoff", cfg.SimilarityCutoff),
		attribute.Int("max_selected", cfg.MaxSelected),
	)

	res, err := run(ctx, question, idx, embedder, synth, cfg)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, rag.ErrNoCandidates) {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("sources", len(res.Sources)))
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

func run(ctx context.Context, question string, idx Retriever, embedder QueryEmbedder, synth Synthesizer, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if idx == nil || embedder == nil || synth == nil {
		return nil, fmt.Errorf("%w: index, embedder and synthesizer are required", rag.ErrConfiguration)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", rag.ErrConfiguration)
	}

	vec, err := embedder.EmbedQuery(ctx, question)
	if err != nil {
		if errors.Is(err, rag.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: embedding question: %v", rag.ErrEmbedding, err)
	}

	hits, err := idx.Retrieve(ctx, vec, cfg.CandidatePool)
	if err != nil {
		return nil, err
	}

	selected := Select(hits, cfg.SimilarityCutoff, cfg.MaxSelected)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: %d candidates, none scored at least %g", rag.ErrNoCandidates, len(hits), cfg.SimilarityCutoff)
	}

	contexts := make([]string, len(selected))
	sources := make([]Source, len(selected))
	for i, h := range selected {
		contexts[i] = h.Text
		sources[i] = Source{Text: h.Text, Score: h.Score, Identity: h.Identity}
	}

	answer, err := synth.Synthesize(ctx, question, contexts)
	if err != nil {
		if errors.Is(err, rag.ErrSynthesis) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", rag.ErrSynthesis, err)
	}
	return &Result{Answer: answer, Sources: sources}, nil
}

// Select keeps hits scoring at least cutoff, orders them by score
// descending with ties in retrieval order, and returns at most limit.
// hits is not modified.
func Select(hits []vectorindex.Hit, cutoff float64, limit int) []vectorindex.Hit {
	kept := make([]vectorindex.Hit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) >= cutoff {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if limit >= 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
