//go:build !cgo

package embeddings

import (
	"context"
	"fmt"
)

// ErrFastEmbedNotAvailable means this binary was built with CGO_ENABLED=0,
// which leaves out the ONNX runtime.
var ErrFastEmbedNotAvailable = fmt.Errorf("%w: fastembed needs a cgo build; use tei, openai or hash", ErrInvalidConfig)

type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider keeps the provider switch compiling without cgo.
// NewFastEmbedProvider never returns one.
type FastEmbedProvider struct{}

func NewFastEmbedProvider(FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
