package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Fake is a deterministic, in-memory Completer+Embedder test double. It
// never makes network calls; CompleteJSON responses are scripted via
// JSONResponses (consumed in order, the last entry repeats once exhausted)
// and embeddings are derived deterministically from the input text so
// that repeated calls for the same text produce identical vectors,
// mirroring the httptest-mocked-server style used in the teacher's
// entity_extractor_test.go without requiring an HTTP round trip.
type Fake struct {
	JSONResponses   []string
	CompleteResults []string
	Dims            int

	CompleteCalls     int
	CompleteJSONCalls int
	EmbedCalls        int
}

// NewFake returns a Fake with the given embedding dimensionality.
func NewFake(dims int) *Fake {
	return &Fake{Dims: dims}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Complete(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	f.CompleteCalls++
	if len(f.CompleteResults) == 0 {
		return "", nil
	}
	idx := f.CompleteCalls - 1
	if idx >= len(f.CompleteResults) {
		idx = len(f.CompleteResults) - 1
	}
	return f.CompleteResults[idx], nil
}

func (f *Fake) CompleteJSON(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
	f.CompleteJSONCalls++
	if len(f.JSONResponses) == 0 {
		return "{}", nil
	}
	idx := f.CompleteJSONCalls - 1
	if idx >= len(f.JSONResponses) {
		idx = len(f.JSONResponses) - 1
	}
	return f.JSONResponses[idx], nil
}

func (f *Fake) Dimensions() int { return f.Dims }

func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	f.EmbedCalls++
	return deterministicEmbedding(text, f.Dims), nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// deterministicEmbedding hashes text into a reproducible unit vector of
// the requested dimensionality, so cosine-similarity tests are stable
// across runs without a real embedding backend.
func deterministicEmbedding(text string, dims int) []float32 {
	if dims <= 0 {
		return nil
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	var norm float64
	for i := 0; i < dims; i++ {
		b := sum[i%len(sum):]
		var u uint32
		if len(b) >= 4 {
			u = binary.LittleEndian.Uint32(b)
		} else {
			u = uint32(b[0])
		}
		v := float64(u%2000)/1000.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
