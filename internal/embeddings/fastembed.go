//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

const (
	defaultFastEmbedModel = "BAAI/bge-small-en-v1.5"
	fastEmbedBatch        = 256
)

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	Model string
	// CacheDir holds downloaded model files; the user cache dir by default.
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider embeds in-process with an ONNX model. Close waits for
// calls in progress.
type FastEmbedProvider struct {
	mu    sync.RWMutex
	flag  *fastembed.FlagEmbedding
	model string
	dim   int
}

// fastEmbedAliases maps Hugging Face names onto fastembed identifiers.
// The identifiers themselves are accepted too.
var fastEmbedAliases = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

func resolveFastEmbedModel(name string) (fastembed.EmbeddingModel, error) {
	if m, ok := fastEmbedAliases[name]; ok {
		return m, nil
	}
	for _, m := range fastEmbedAliases {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, name)
}

func modelCacheDir(dir string) string {
	if dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "docrag", "models")
}

// NewFastEmbedProvider loads cfg.Model, downloading it on first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	if cfg.Model == "" {
		cfg.Model = defaultFastEmbedModel
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 512
	}
	model, err := resolveFastEmbedModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	quiet := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             modelCacheDir(cfg.CacheDir),
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrEmbeddingFailed, cfg.Model, err)
	}
	return &FastEmbedProvider{flag: flag, model: cfg.Model, dim: detectDimensionFromModel(string(model))}, nil
}

// session returns the loaded model under a read lock; release must be
// called when done.
func (p *FastEmbedProvider) session(ctx context.Context) (flag *fastembed.FlagEmbedding, release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, wrapFailure(err)
	}
	p.mu.RLock()
	if p.flag == nil {
		p.mu.RUnlock()
		return nil, nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}
	return p.flag, p.mu.RUnlock, nil
}

// EmbedDocuments embeds passages; BGE models get their "passage: " prefix.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts", ErrEmptyInput)
	}
	flag, release, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vecs, err := flag.PassageEmbed(texts, fastEmbedBatch)
	if err != nil {
		return nil, wrapFailure(err)
	}
	return vecs, nil
}

// EmbedQuery embeds text with the "query: " prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty query", ErrEmptyInput)
	}
	flag, release, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vec, err := flag.QueryEmbed(text)
	if err != nil {
		return nil, wrapFailure(err)
	}
	return vec, nil
}

func (p *FastEmbedProvider) Dimension() int { return p.dim }

// Close releases the ONNX session. Later calls fail.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flag == nil {
		return nil
	}
	err := p.flag.Destroy()
	p.flag = nil
	return err
}
