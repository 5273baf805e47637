// Package llm defines the external LLM and embedding provider contracts
// (spec §2, §6). Concrete backends are out of scope; core code depends
// only on these interfaces.
package llm

import "context"

// Completer generates text and structured-JSON completions. Implementations
// own authentication, rate limiting, and backend-specific error handling.
type Completer interface {
	// Complete generates a completion for prompt, optionally steered by a
	// system message. temperature and maxTokens are backend-specific knobs.
	Complete(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error)

	// CompleteJSON generates a completion expected to be (or recoverable
	// into) a JSON object and returns it unparsed; callers decode it.
	CompleteJSON(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error)

	// Name returns the provider's identifying name.
	Name() string
}

// Embedder generates embedding vectors for text.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embedding vectors for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed embedding dimensionality this provider produces.
	Dimensions() int

	// Name returns the provider's identifying name.
	Name() string
}
