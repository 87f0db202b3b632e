package embedding

import (
	"context"

	"golang.org/x/time/rate"

	"transcriptrag/internal/domain"
)

// RateLimited spaces out calls to a remote provider with a token bucket.
// Each Embed call takes one token regardless of batch size.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows requestsPerSecond calls with bursts of burst.
func NewRateLimited(inner Embedder, requestsPerSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Name passes through to the wrapped embedder.
func (r *RateLimited) Name() string { return r.inner.Name() }

// Dimensions passes through to the wrapped embedder.
func (r *RateLimited) Dimensions() int { return r.inner.Dimensions() }

// Embed waits for a token, then calls the wrapped embedder.
func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.NewProviderError(r.inner.Name(), err)
	}
	return r.inner.Embed(ctx, texts)
}

// EmbedQuery waits for a token, then calls the wrapped embedder.
func (r *RateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.NewProviderError(r.inner.Name(), err)
	}
	return r.inner.EmbedQuery(ctx, text)
}
