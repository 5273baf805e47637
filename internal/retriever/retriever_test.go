package retriever

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remind-mem/remind/internal/llm"
	"github.com/remind-mem/remind/internal/model"
	"github.com/remind-mem/remind/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func addConcept(t *testing.T, st *store.Store, fake *llm.Fake, id, summary string, confidence float64) *model.Concept {
	t.Helper()
	embedding, err := fake.Embed(context.Background(), summary)
	require.NoError(t, err)
	c := &model.Concept{
		ID: id, Summary: summary, Confidence: confidence,
		CreatedAt: time.Now(), UpdatedAt: time.Now(), Embedding: embedding,
	}
	require.NoError(t, st.AddConcept(context.Background(), c))
	return c
}

// TestRetrieve_SpreadingActivationChain reproduces the worked three-concept
// chain example: A --implies(0.9)--> B --generalizes(0.9)--> C, all
// confidence 1.0, query matching only A with similarity 1.0. With defaults
// (spread_decay=0.5, implies=0.9, generalizes=0.85, activation_threshold=0.1)
// the expected ordering is A, B, C with activations 1.0, 0.405, ~0.155.
// C's activation is below 2×threshold, so the query passes includeWeak.
func TestRetrieve_SpreadingActivationChain(t *testing.T) {
	st := newTestStore(t)
	fake := llm.NewFake(8)

	// The fake embeddings of "B node" and "C node" have negative cosine
	// similarity to the query "A", so only A is seeded by embedding.
	a := addConcept(t, st, fake, "a", "A", 1.0)
	addConcept(t, st, fake, "b", "B node", 1.0)
	addConcept(t, st, fake, "c", "C node", 1.0)

	a.AddRelation(model.ConceptRelation{TargetID: "b", Type: model.RelImplies, Strength: 0.9})
	require.NoError(t, st.UpdateConcept(context.Background(), a))

	b, err := st.GetConcept(context.Background(), "b")
	require.NoError(t, err)
	b.AddRelation(model.ConceptRelation{TargetID: "c", Type: model.RelGeneralizes, Strength: 0.9})
	require.NoError(t, st.UpdateConcept(context.Background(), b))

	r := New(fake, st, 10, 2, 0.5, 0.1, nil)

	results, err := r.Retrieve(context.Background(), "A", 10, "", true)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := make(map[string]model.ActivatedConcept, 3)
	for _, res := range results {
		byID[res.Concept.ID] = res
	}

	require.Contains(t, byID, "a")
	require.Contains(t, byID, "b")
	require.Contains(t, byID, "c")

	assert.InDelta(t, 1.0, byID["a"].Activation, 1e-9)
	assert.InDelta(t, 0.405, byID["b"].Activation, 1e-9)
	assert.InDelta(t, 0.155, byID["c"].Activation, 1e-3)

	assert.Equal(t, "embedding", byID["a"].Source)
	assert.Equal(t, "spread", byID["b"].Source)
	assert.Equal(t, "spread", byID["c"].Source)
	assert.GreaterOrEqual(t, byID["b"].Hops, 1)
	assert.GreaterOrEqual(t, byID["c"].Hops, 1)

	assert.Equal(t, "a", results[0].Concept.ID)
	assert.Equal(t, "b", results[1].Concept.ID)
	assert.Equal(t, "c", results[2].Concept.ID)
}

func TestRetrieve_NoConceptsReturnsEmpty(t *testing.T) {
	st := newTestStore(t)
	fake := llm.NewFake(8)
	r := New(fake, st, 10, 2, 0.5, 0.1, nil)

	results, err := r.Retrieve(context.Background(), "anything", 5, "", false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_ExcludesWeakActivationsByDefault(t *testing.T) {
	st := newTestStore(t)
	fake := llm.NewFake(8)
	addConcept(t, st, fake, "weak", "weak concept", 0.15)

	r := New(fake, st, 10, 2, 0.5, 0.1, nil)
	results, err := r.Retrieve(context.Background(), "weak concept", 5, "", false)
	require.NoError(t, err)
	assert.Empty(t, results)

	resultsWeak, err := r.Retrieve(context.Background(), "weak concept", 5, "", true)
	require.NoError(t, err)
	assert.Len(t, resultsWeak, 1)
}

func TestRetrieve_NoDuplicateConcepts(t *testing.T) {
	st := newTestStore(t)
	fake := llm.NewFake(8)

	a := addConcept(t, st, fake, "a", "A", 1.0)
	addConcept(t, st, fake, "b", "B", 1.0)
	a.AddRelation(model.ConceptRelation{TargetID: "b", Type: model.RelImplies, Strength: 0.9})
	require.NoError(t, st.UpdateConcept(context.Background(), a))

	r := New(fake, st, 10, 2, 0.5, 0.1, nil)
	results, err := r.Retrieve(context.Background(), "A", 10, "", false)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, res := range results {
		assert.False(t, seen[res.Concept.ID], "concept %s appeared twice", res.Concept.ID)
		seen[res.Concept.ID] = true
	}
}

func TestFindRelatedChain(t *testing.T) {
	st := newTestStore(t)
	fake := llm.NewFake(8)

	a := addConcept(t, st, fake, "a", "A", 1.0)
	addConcept(t, st, fake, "b", "B", 1.0)
	addConcept(t, st, fake, "c", "C", 1.0)

	a.AddRelation(model.ConceptRelation{TargetID: "b", Type: model.RelImplies, Strength: 0.9})
	require.NoError(t, st.UpdateConcept(context.Background(), a))
	b, err := st.GetConcept(context.Background(), "b")
	require.NoError(t, err)
	b.AddRelation(model.ConceptRelation{TargetID: "c", Type: model.RelGeneralizes, Strength: 0.9})
	require.NoError(t, st.UpdateConcept(context.Background(), b))

	r := New(fake, st, 10, 2, 0.5, 0.1, nil)
	chain, err := r.FindRelatedChain(context.Background(), "a", "c", 5)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "a", chain[0].Concept.ID)
	assert.Equal(t, "implies", chain[0].RelationType)
	assert.Equal(t, "b", chain[1].Concept.ID)
	assert.Equal(t, "generalizes", chain[1].RelationType)
	assert.Equal(t, "c", chain[2].Concept.ID)
	assert.Equal(t, "", chain[2].RelationType)
}

func TestFindRelatedChain_Unreachable(t *testing.T) {
	st := newTestStore(t)
	fake := llm.NewFake(8)
	addConcept(t, st, fake, "a", "A", 1.0)
	addConcept(t, st, fake, "b", "B", 1.0)

	r := New(fake, st, 10, 2, 0.5, 0.1, nil)
	chain, err := r.FindRelatedChain(context.Background(), "a", "b", 5)
	require.NoError(t, err)
	assert.Nil(t, chain)
}

func TestRetrieveRelatedEntities(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:alice", Type: model.EntityPerson, DisplayName: "alice", CreatedAt: time.Now()}))
	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:bob", Type: model.EntityPerson, DisplayName: "bob", CreatedAt: time.Now()}))

	for i := 0; i < 3; i++ {
		ep := &model.Episode{
			ID: "ep" + string(rune('0'+i)), Timestamp: time.Now(), Content: "x",
			EpisodeType: model.EpisodeObservation, Confidence: 1.0,
			EntityIDs: []string{"person:alice", "person:bob"},
		}
		require.NoError(t, st.AddEpisode(ctx, ep))
	}

	fake := llm.NewFake(8)
	r := New(fake, st, 10, 2, 0.5, 0.1, nil)
	cooccur, err := r.RetrieveRelatedEntities(ctx, "person:alice", 10)
	require.NoError(t, err)
	require.Len(t, cooccur, 1)
	assert.Equal(t, "person:bob", cooccur[0].Entity.ID)
	assert.Equal(t, 3, cooccur[0].Count)
}
