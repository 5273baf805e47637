package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remind-mem/remind/internal/model"
)

func TestFormatForLLM_EmptyActivationReturnsPlaceholder(t *testing.T) {
	r := &Retriever{Store: newTestStore(t)}
	out, err := r.FormatForLLM(context.Background(), nil, true, 3, true)
	require.NoError(t, err)
	assert.Equal(t, "(No relevant memories found)", out)
}

func TestFormatForLLM_IncludesSummaryConditionsAndExceptions(t *testing.T) {
	st := newTestStore(t)
	r := &Retriever{Store: st}
	c := &model.Concept{
		ID: "c1", Title: "Use Postgres", Summary: "prefer postgres for storage",
		Confidence: 0.9, Conditions: "when durability matters", Exceptions: []string{"prototypes"},
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, st.AddConcept(context.Background(), c))

	out, err := r.FormatForLLM(context.Background(), []model.ActivatedConcept{
		{Concept: c, Activation: 1.0, Source: "embedding"},
	}, true, 3, false)
	require.NoError(t, err)
	assert.Contains(t, out, "Use Postgres")
	assert.Contains(t, out, "prefer postgres for storage")
	assert.Contains(t, out, "Applies when: when durability matters")
	assert.Contains(t, out, "Exceptions: prototypes")
	assert.NotContains(t, out, "via association")
}

func TestFormatForLLM_TagsSpreadSourceAndCapsRelations(t *testing.T) {
	st := newTestStore(t)
	r := &Retriever{Store: st}
	ctx := context.Background()

	targets := make([]*model.Concept, 3)
	for i := range targets {
		targets[i] = &model.Concept{
			ID: string(rune('a' + i)), Summary: "summary " + string(rune('a'+i)),
			Confidence: 1.0, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		require.NoError(t, st.AddConcept(ctx, targets[i]))
	}

	source := &model.Concept{ID: "src", Summary: "source concept", Confidence: 1.0, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	for _, tgt := range targets {
		source.AddRelation(model.ConceptRelation{TargetID: tgt.ID, Type: model.RelImplies, Strength: 0.8})
	}
	require.NoError(t, st.AddConcept(ctx, source))

	out, err := r.FormatForLLM(ctx, []model.ActivatedConcept{
		{Concept: source, Activation: 0.5, Source: "spread"},
	}, true, 2, false)
	require.NoError(t, err)
	assert.Contains(t, out, "via association")
	assert.Contains(t, out, "summary a")
	assert.Contains(t, out, "summary b")
	assert.NotContains(t, out, "summary c", "relation listing should be capped at maxRelations")
}

func TestFormatForLLM_IncludesSourceEpisodesWhenRequested(t *testing.T) {
	st := newTestStore(t)
	r := &Retriever{Store: st}
	ctx := context.Background()

	ep := &model.Episode{ID: "ep1", Timestamp: time.Now(), Content: "the original observation", Confidence: 1.0, EpisodeType: model.EpisodeObservation}
	require.NoError(t, st.AddEpisode(ctx, ep))

	c := &model.Concept{
		ID: "c1", Summary: "derived concept", Confidence: 1.0,
		SourceEpisodes: []string{"ep1"}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, st.AddConcept(ctx, c))

	out, err := r.FormatForLLM(ctx, []model.ActivatedConcept{{Concept: c, Activation: 1.0, Source: "embedding"}}, false, 0, true)
	require.NoError(t, err)
	assert.Contains(t, out, "Source episodes:")
	assert.Contains(t, out, "the original observation")
}

func TestFormatEntityContext_NoEpisodesReturnsPlaceholder(t *testing.T) {
	r := &Retriever{Store: newTestStore(t)}
	out, err := r.FormatEntityContext(context.Background(), "person:alice", nil, false)
	require.NoError(t, err)
	assert.Contains(t, out, "No memories about person:alice")
}

func TestFormatEntityContext_GroupsByTypeInDocumentedOrder(t *testing.T) {
	st := newTestStore(t)
	r := &Retriever{Store: st}
	ctx := context.Background()
	require.NoError(t, st.AddEntity(ctx, &model.Entity{ID: "person:alice", Type: model.EntityPerson, DisplayName: "Alice", CreatedAt: time.Now()}))

	episodes := []*model.Episode{
		{ID: "ep1", Content: "noticed X", EpisodeType: model.EpisodeObservation, Timestamp: time.Now(), Confidence: 1.0},
		{ID: "ep2", Content: "decided Y", EpisodeType: model.EpisodeDecision, Timestamp: time.Now(), Confidence: 1.0},
	}

	out, err := r.FormatEntityContext(ctx, "person:alice", episodes, true)
	require.NoError(t, err)
	assert.Contains(t, out, "MEMORY ABOUT: Alice")
	decisionIdx := indexOf(out, "[DECISIONS]")
	observationIdx := indexOf(out, "[OBSERVATIONS]")
	require.NotEqual(t, -1, decisionIdx)
	require.NotEqual(t, -1, observationIdx)
	assert.Less(t, decisionIdx, observationIdx, "decisions are grouped before observations per the documented type order")
}

func TestFormatEntityContext_FlatListWithoutBreakdown(t *testing.T) {
	st := newTestStore(t)
	r := &Retriever{Store: st}
	episodes := []*model.Episode{
		{ID: "ep1", Content: "plain entry", EpisodeType: model.EpisodeObservation, Timestamp: time.Now(), Confidence: 1.0},
	}
	out, err := r.FormatEntityContext(context.Background(), "person:unknown", episodes, false)
	require.NoError(t, err)
	assert.Contains(t, out, "plain entry")
	assert.NotContains(t, out, "[OBSERVATIONS]")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
