package embeddings_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/embeddings"
	"github.com/fyrsmithlabs/docrag/internal/rag"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     embeddings.Config
		wantErr error
		wantDim int
	}{
		{"hash default dimension", embeddings.Config{Provider: "hash"}, nil, embeddings.DefaultHashDimension},
		{"hash custom dimension", embeddings.Config{Provider: "hash", Dimension: 32}, nil, 32},
		{"hash with rate limit", embeddings.Config{Provider: "hash", RateLimit: 100}, nil, embeddings.DefaultHashDimension},
		{"tei", embeddings.Config{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"}, nil, 768},
		{"tei without base URL", embeddings.Config{Provider: "tei"}, rag.ErrConfiguration, 0},
		{"openai", embeddings.Config{Provider: "openai", APIKey: "k", Model: "text-embedding-3-small"}, nil, 1536},
		{"openai without key", embeddings.Config{Provider: "openai", Model: "text-embedding-3-small"}, rag.ErrConfiguration, 0},
		{"unknown", embeddings.Config{Provider: "word2vec"}, rag.ErrConfiguration, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := embeddings.NewProvider(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer p.Close()
			assert.Equal(t, tt.wantDim, p.Dimension())
		})
	}
}

func TestHashProvider(t *testing.T) {
	p, err := embeddings.NewHashProvider(128)
	require.NoError(t, err)
	ctx := context.Background()

	vecs, err := p.EmbedDocuments(ctx, []string{"alpha beta", "gamma delta", "Alpha, beta!"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 128)
	}

	q, err := p.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, cosine(vecs[0], vecs[2]), 1e-6, "case and punctuation are ignored")
	assert.Greater(t, cosine(q, vecs[0]), cosine(q, vecs[1]))

	again, err := p.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, q, again)

	punct, err := p.EmbedQuery(ctx, "...")
	require.NoError(t, err)
	var norm float64
	for _, x := range punct {
		norm += float64(x * x)
	}
	assert.Greater(t, norm, 0.0)

	_, err = p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, rag.ErrEmbedding)
	_, err = embeddings.NewHashProvider(-1)
	assert.ErrorIs(t, err, rag.ErrConfiguration)
}

func TestTEIProvider(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Inputs   []string `json:"inputs"`
			Truncate bool     `json:"truncate"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)
		out := make([][]float32, len(req.Inputs))
		for i := range req.Inputs {
			out[i] = []float32{float32(i + 1), 0, 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	p, err := embeddings.NewTEIProvider(embeddings.TEIConfig{BaseURL: srv.URL + "/", APIKey: "secret", Dimension: 3})
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 1}, {2, 0, 1}}, vecs)
	assert.Equal(t, "Bearer secret", gotAuth)

	q, err := p.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 1}, q)
	assert.Equal(t, 3, p.Dimension())
}

func TestTEIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := embeddings.NewTEIProvider(embeddings.TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrEmbedding)
	assert.Contains(t, err.Error(), "503")
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-small", req.Model)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []item `json:"data"`
			Model  string `json:"model"`
		}{Object: "list", Model: req.Model}
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Object: "embedding", Embedding: []float32{1, float32(i)}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
		BaseURL:   srv.URL,
		Model:     "embed-small",
		APIKey:    "token",
		Dimension: 2,
	})
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {1, 1}}, vecs)
	assert.Equal(t, 2, p.Dimension())
}

type countingProvider struct {
	embeddings.Provider
	calls atomic.Int32
}

func (c *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Provider.EmbedQuery(ctx, text)
}

func TestRateLimited(t *testing.T) {
	base, err := embeddings.NewHashProvider(8)
	require.NoError(t, err)
	inner := &countingProvider{Provider: base}
	p := embeddings.NewRateLimited(inner, 1, 1)

	_, err = p.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	// The second call has to wait about a second; a short deadline fails it.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.EmbedQuery(ctx, "second")
	assert.ErrorIs(t, err, rag.ErrEmbedding)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 8, p.Dimension())
}
