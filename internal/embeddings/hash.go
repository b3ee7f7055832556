package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is the vector size of the hash provider.
const DefaultHashDimension = 256

// HashProvider embeds text by feature hashing lower-cased words into a fixed
// number of signed buckets. Texts sharing words get positive cosine
// similarity; it needs no model and is fully deterministic.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a hash provider with dim buckets. Zero selects
// DefaultHashDimension.
func NewHashProvider(dim int) (*HashProvider, error) {
	if dim < 0 {
		return nil, fmt.Errorf("%w: negative dimension %d", ErrInvalidConfig, dim)
	}
	if dim == 0 {
		dim = DefaultHashDimension
	}
	return &HashProvider{dim: dim}, nil
}

// EmbedDocuments embeds each text.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, wrapFailure(err)
		}
		out[i] = p.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds one text.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapFailure(err)
	}
	return p.embed(text), nil
}

func (p *HashProvider) embed(text string) []float32 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		// Punctuation-only text still needs a non-zero vector.
		words = []string{strings.TrimSpace(text)}
	}

	vec := make([]float32, p.dim)
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		bucket := sum % uint64(p.dim)
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Opposite-signed collisions cancelled out.
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Dimension returns the number of buckets.
func (p *HashProvider) Dimension() int {
	return p.dim
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}
