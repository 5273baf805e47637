package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remind-mem/remind/internal/llm"
)

func TestCompleter_DelegatesAndPassesThroughResults(t *testing.T) {
	fake := llm.NewFake(8)
	fake.CompleteResults = []string{"hello"}
	c := NewCompleter(fake, 1000, 10)

	out, err := c.Complete(context.Background(), "prompt", "system", 0.1, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "fake", c.Name())
}

func TestCompleter_BlocksUntilContextDeadlineWhenExhausted(t *testing.T) {
	fake := llm.NewFake(8)
	c := NewCompleter(fake, 0.001, 1)

	_, err := c.CompleteJSON(context.Background(), "p", "s", 0.1, 10)
	require.NoError(t, err, "first call consumes the single burst token immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.CompleteJSON(ctx, "p", "s", 0.1, 10)
	assert.Error(t, err, "second call should block past the deadline given a near-zero rate")
}

func TestEmbedder_DelegatesAndReportsDimensions(t *testing.T) {
	fake := llm.NewFake(8)
	e := NewEmbedder(fake, 1000, 10)

	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, "fake", e.Name())

	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	batch, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}
