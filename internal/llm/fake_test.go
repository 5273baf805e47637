package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_EmbedIsDeterministic(t *testing.T) {
	f := NewFake(16)
	v1, err := f.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := f.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := f.Embed(context.Background(), "something else")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestFake_EmbedCountsCalls(t *testing.T) {
	f := NewFake(8)
	_, _ = f.Embed(context.Background(), "a")
	_, _ = f.Embed(context.Background(), "b")
	assert.Equal(t, 2, f.EmbedCalls)
}

func TestFake_CompleteJSON_CyclesThenRepeatsLast(t *testing.T) {
	f := NewFake(8)
	f.JSONResponses = []string{"first", "second"}

	r1, err := f.CompleteJSON(context.Background(), "p", "s", 0, 0)
	require.NoError(t, err)
	r2, err := f.CompleteJSON(context.Background(), "p", "s", 0, 0)
	require.NoError(t, err)
	r3, err := f.CompleteJSON(context.Background(), "p", "s", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, "first", r1)
	assert.Equal(t, "second", r2)
	assert.Equal(t, "second", r3, "exhausted scripted responses repeat the last one")
	assert.Equal(t, 3, f.CompleteJSONCalls)
}

func TestFake_CompleteJSON_EmptyDefaultsToEmptyObject(t *testing.T) {
	f := NewFake(8)
	out, err := f.CompleteJSON(context.Background(), "p", "s", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestFake_EmbedBatch(t *testing.T) {
	f := NewFake(8)
	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	single, err := f.Embed(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}
