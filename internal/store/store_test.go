package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remind-mem/remind/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAddMention_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:alice", Type: model.EntityPerson, DisplayName: "alice", CreatedAt: time.Now()}))
	require.NoError(t, st.AddEpisode(ctx, &model.Episode{ID: "ep1", Timestamp: time.Now(), Content: "x", EpisodeType: model.EpisodeObservation, Confidence: 1.0}))

	require.NoError(t, st.AddMention(ctx, "ep1", "person:alice"))
	require.NoError(t, st.AddMention(ctx, "ep1", "person:alice"))

	episodes, err := st.GetEpisodesMentioning(ctx, "person:alice", 10)
	require.NoError(t, err)
	assert.Len(t, episodes, 1)
}

func TestEpisodeFlags_MonotonicNonDecreasing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ep := &model.Episode{ID: "ep1", Timestamp: time.Now(), Content: "x", EpisodeType: model.EpisodeObservation, Confidence: 1.0}
	require.NoError(t, st.AddEpisode(ctx, ep))

	ep.EntitiesExtracted = true
	require.NoError(t, st.UpdateEpisode(ctx, ep))

	reloaded, err := st.GetEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.True(t, reloaded.EntitiesExtracted)
	assert.False(t, reloaded.Consolidated)

	reloaded.Consolidated = true
	require.NoError(t, st.UpdateEpisode(ctx, reloaded))

	final, err := st.GetEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.True(t, final.Consolidated)
	assert.True(t, final.EntitiesExtracted, "previously-set flag must not regress")
}

func TestFindByEmbedding_SortedDescendingAndLengthCapped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"close":  {1, 0, 0},
		"medium": {0.7, 0.7, 0},
		"far":    {0, 1, 0},
	}
	for id, v := range vectors {
		require.NoError(t, st.AddConcept(ctx, &model.Concept{
			ID: id, Summary: id, Confidence: 1.0, Embedding: v,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	}

	matches, err := st.FindByEmbedding(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "close", matches[0].Concept.ID)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestGetRelated_TraversesOutgoingRelations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := &model.Concept{ID: "a", Summary: "A", Confidence: 1.0, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	b := &model.Concept{ID: "b", Summary: "B", Confidence: 1.0, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, st.AddConcept(ctx, a))
	require.NoError(t, st.AddConcept(ctx, b))

	a.AddRelation(model.ConceptRelation{TargetID: "b", Type: model.RelImplies, Strength: 0.8})
	require.NoError(t, st.UpdateConcept(ctx, a))

	related, err := st.GetRelated(ctx, "a", nil, 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].Concept.ID)
	assert.Equal(t, model.RelImplies, related[0].Relation.Type)
	assert.Equal(t, 0.8, related[0].Relation.Strength)
}

func TestExportImport_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:alice", Type: model.EntityPerson, DisplayName: "alice", CreatedAt: time.Now()}))
	require.NoError(t, st.AddEpisode(ctx, &model.Episode{
		ID: "ep1", Timestamp: time.Now(), Content: "hello", EpisodeType: model.EpisodeObservation,
		Confidence: 1.0, EntityIDs: []string{"person:alice"},
	}))
	c := &model.Concept{
		ID: "c1", Title: "t", Summary: "s", Confidence: 0.8, InstanceCount: 2,
		CreatedAt: time.Now(), UpdatedAt: time.Now(), Tags: []string{"x"},
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, st.AddConcept(ctx, c))

	data, err := st.ExportData(ctx)
	require.NoError(t, err)

	st2 := newTestStore(t)
	require.NoError(t, st2.ImportData(ctx, data))

	entities, err := st2.GetAllEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "person:alice", entities[0].ID)

	concepts, err := st2.GetAllConcepts(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "s", concepts[0].Summary)
	assert.Equal(t, []string{"x"}, concepts[0].Tags)
	require.Len(t, concepts[0].Embedding, 3)
	assert.InDelta(t, 0.2, concepts[0].Embedding[1], 1e-6)

	episodes, err := st2.GetEpisodesMentioning(ctx, "person:alice", 10)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "hello", episodes[0].Content)
}

func TestCountUnconsolidatedEpisodes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddEpisode(ctx, &model.Episode{ID: "ep1", Timestamp: time.Now(), Content: "a", EpisodeType: model.EpisodeObservation, Confidence: 1.0}))
	require.NoError(t, st.AddEpisode(ctx, &model.Episode{ID: "ep2", Timestamp: time.Now(), Content: "b", EpisodeType: model.EpisodeObservation, Confidence: 1.0, Consolidated: true}))

	n, err := st.CountUnconsolidatedEpisodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetEntityMentionCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:alice", Type: model.EntityPerson, DisplayName: "alice", CreatedAt: time.Now()}))
	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:bob", Type: model.EntityPerson, DisplayName: "bob", CreatedAt: time.Now()}))

	require.NoError(t, st.AddEpisode(ctx, &model.Episode{
		ID: "ep1", Timestamp: time.Now(), Content: "x", EpisodeType: model.EpisodeObservation,
		Confidence: 1.0, EntityIDs: []string{"person:alice"},
	}))
	require.NoError(t, st.AddEpisode(ctx, &model.Episode{
		ID: "ep2", Timestamp: time.Now(), Content: "y", EpisodeType: model.EpisodeObservation,
		Confidence: 1.0, EntityIDs: []string{"person:alice"},
	}))

	counts, err := st.GetEntityMentionCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "person:alice", counts[0].Entity.ID)
	assert.Equal(t, 2, counts[0].Count)
	assert.Equal(t, "person:bob", counts[1].Entity.ID)
	assert.Equal(t, 0, counts[1].Count)
}
