package embeddings

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited bounds the call rate of a provider. Each EmbedDocuments or
// EmbedQuery call takes one token.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p with a limiter of perSecond calls and the given
// burst (minimum 1).
func NewRateLimited(p Provider, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// EmbedDocuments waits for a token, then delegates.
func (r *RateLimited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapFailure(err)
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}

// EmbedQuery waits for a token, then delegates.
func (r *RateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapFailure(err)
	}
	return r.Provider.EmbedQuery(ctx, text)
}
