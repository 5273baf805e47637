// Package ratelimit throttles calls into LLM and embedding providers.
// The teacher's gemini.Client calls out to a sibling internal/ratelimit
// package for this purpose that is not itself present in the retrieved
// corpus; here the same role is filled by the real, already-vendored
// golang.org/x/time/rate token bucket.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/remind-mem/remind/internal/llm"
)

// Completer wraps an llm.Completer, blocking each call until the token
// bucket admits it (or ctx is cancelled).
type Completer struct {
	inner   llm.Completer
	limiter *rate.Limiter
}

// NewCompleter wraps inner with a limiter allowing ratePerSecond requests
// per second and bursts of up to burst requests.
func NewCompleter(inner llm.Completer, ratePerSecond float64, burst int) *Completer {
	return &Completer{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (c *Completer) Name() string { return c.inner.Name() }

func (c *Completer) Complete(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return c.inner.Complete(ctx, prompt, system, temperature, maxTokens)
}

func (c *Completer) CompleteJSON(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return c.inner.CompleteJSON(ctx, prompt, system, temperature, maxTokens)
}

// Embedder wraps an llm.Embedder with the same token-bucket discipline.
type Embedder struct {
	inner   llm.Embedder
	limiter *rate.Limiter
}

// NewEmbedder wraps inner with a limiter allowing ratePerSecond requests
// per second and bursts of up to burst requests.
func NewEmbedder(inner llm.Embedder, ratePerSecond float64, burst int) *Embedder {
	return &Embedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (e *Embedder) Name() string       { return e.inner.Name() }
func (e *Embedder) Dimensions() int    { return e.inner.Dimensions() }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return e.inner.Embed(ctx, text)
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return e.inner.EmbedBatch(ctx, texts)
}
