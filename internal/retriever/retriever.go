// Package retriever implements spreading-activation recall over the
// concept graph, plus the entity-centric and graph-path lookups used to
// surface memory into an LLM prompt (spec §4.4).
package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/remind-mem/remind/internal/llm"
	"github.com/remind-mem/remind/internal/model"
	"github.com/remind-mem/remind/internal/store"
)

// Retriever answers recall queries by combining embedding similarity with
// activation spread across concept relations.
type Retriever struct {
	Embedder llm.Embedder
	Store    *store.Store

	InitialK            int
	SpreadHops          int
	SpreadDecay         float64
	ActivationThreshold float64
	RelationWeights     map[model.ConceptRelationType]float64
}

// New constructs a Retriever with the given spreading-activation parameters.
// relationWeights may be nil, in which case model.RelationWeight supplies
// per-type defaults.
func New(embedder llm.Embedder, st *store.Store, initialK, spreadHops int, spreadDecay, activationThreshold float64, relationWeights map[model.ConceptRelationType]float64) *Retriever {
	return &Retriever{
		Embedder: embedder, Store: st,
		InitialK: initialK, SpreadHops: spreadHops,
		SpreadDecay: spreadDecay, ActivationThreshold: activationThreshold,
		RelationWeights: relationWeights,
	}
}

func (r *Retriever) relationWeight(t model.ConceptRelationType) float64 {
	if r.RelationWeights != nil {
		if w, ok := r.RelationWeights[t]; ok {
			return w
		}
	}
	return model.RelationWeight(t)
}

type activation struct {
	value  float64
	source string
	hops   int
}

// Retrieve embeds query (optionally concatenated with context), seeds an
// activation map from embedding similarity weighted by concept confidence,
// spreads it across the concept graph for SpreadHops hops, and returns the
// top k concepts by activation, sorted descending.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, context string, includeWeak bool) ([]model.ActivatedConcept, error) {
	embedText := query
	if context != "" {
		embedText = query + "\n\nContext: " + context
	}
	queryEmbedding, err := r.Embedder.Embed(ctx, embedText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	initialMatches, err := r.Store.FindByEmbedding(ctx, queryEmbedding, r.InitialK*2)
	if err != nil {
		return nil, err
	}

	activationMap := make(map[string]activation)
	conceptCache := make(map[string]*model.Concept)

	for _, m := range initialMatches {
		weighted := m.Similarity * m.Concept.Confidence
		if weighted > r.ActivationThreshold {
			activationMap[m.Concept.ID] = activation{value: weighted, source: "embedding", hops: 0}
			conceptCache[m.Concept.ID] = m.Concept
		}
	}

	for hop := 0; hop < r.SpreadHops; hop++ {
		newActivations := make(map[string]activation)

		for conceptID, act := range activationMap {
			if act.value < r.ActivationThreshold {
				continue
			}
			related, err := r.Store.GetRelated(ctx, conceptID, nil, 1)
			if err != nil {
				return nil, err
			}
			for _, rc := range related {
				weight := r.relationWeight(rc.Relation.Type)
				spread := act.value * rc.Relation.Strength * weight * r.SpreadDecay * rc.Concept.Confidence
				if spread < r.ActivationThreshold {
					continue
				}
				current := activationMap[rc.Concept.ID].value
				spreadCurrent := newActivations[rc.Concept.ID].value
				if spread > current && spread > spreadCurrent {
					newActivations[rc.Concept.ID] = activation{value: spread, source: "spread", hops: hop + 1}
					conceptCache[rc.Concept.ID] = rc.Concept
				}
			}
		}

		for cid, act := range newActivations {
			if act.value > activationMap[cid].value {
				activationMap[cid] = act
			}
		}
	}

	var results []model.ActivatedConcept
	for conceptID, act := range activationMap {
		if !includeWeak && act.value < r.ActivationThreshold*2 {
			continue
		}
		concept := conceptCache[conceptID]
		if concept == nil {
			c, err := r.Store.GetConcept(ctx, conceptID)
			if err != nil {
				return nil, err
			}
			concept = c
		}
		if concept == nil {
			continue
		}
		results = append(results, model.ActivatedConcept{Concept: concept, Activation: act.value, Source: act.source, Hops: act.hops})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Activation > results[j].Activation })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// RetrieveByTags scores concepts by fractional tag overlap with tags and
// returns the top k.
func (r *Retriever) RetrieveByTags(ctx context.Context, tags []string, k int) ([]*model.Concept, error) {
	all, err := r.Store.GetAllConcepts(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[t] = true
	}

	type scored struct {
		concept *model.Concept
		score   float64
	}
	var matches []scored
	for _, c := range all {
		overlap := 0
		for _, t := range c.Tags {
			if wanted[t] {
				overlap++
			}
		}
		if overlap > 0 && len(tags) > 0 {
			matches = append(matches, scored{concept: c, score: float64(overlap) / float64(len(tags))})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	out := make([]*model.Concept, len(matches))
	for i, m := range matches {
		out[i] = m.concept
	}
	return out, nil
}

// RetrieveByEntity returns episodes mentioning entityID, newest first.
func (r *Retriever) RetrieveByEntity(ctx context.Context, entityID string, limit int) ([]*model.Episode, error) {
	return r.Store.GetEpisodesMentioning(ctx, entityID, limit)
}

// RetrieveRelatedEntities finds entities that co-occur with entityID across
// its mentioning episodes, ranked by co-occurrence count.
func (r *Retriever) RetrieveRelatedEntities(ctx context.Context, entityID string, limit int) ([]EntityCooccurrence, error) {
	episodes, err := r.Store.GetEpisodesMentioning(ctx, entityID, 100)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, ep := range episodes {
		for _, other := range ep.EntityIDs {
			if other != entityID {
				counts[other]++
			}
		}
	}

	type pair struct {
		id    string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for id, n := range counts {
		pairs = append(pairs, pair{id, n})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}

	var out []EntityCooccurrence
	for _, p := range pairs {
		e, err := r.Store.GetEntity(ctx, p.id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, EntityCooccurrence{Entity: e, Count: p.count})
		}
	}
	return out, nil
}

// EntityCooccurrence pairs an entity with how many episodes mention it
// alongside the queried entity.
type EntityCooccurrence struct {
	Entity *model.Entity
	Count  int
}

// ChainStep is one (concept, relation-to-next) link in a path returned by
// FindRelatedChain; RelationType is empty for the final step.
type ChainStep struct {
	Concept      *model.Concept
	RelationType string
}

// FindRelatedChain performs a breadth-first search over outgoing concept
// relations to find a path from startID to endID, or nil if none exists
// with at most maxDepth concepts (maxDepth-1 relation hops).
func (r *Retriever) FindRelatedChain(ctx context.Context, startID, endID string, maxDepth int) ([]ChainStep, error) {
	start, err := r.Store.GetConcept(ctx, startID)
	if err != nil {
		return nil, err
	}
	end, err := r.Store.GetConcept(ctx, endID)
	if err != nil {
		return nil, err
	}
	if start == nil || end == nil {
		return nil, nil
	}

	type queued struct {
		id   string
		path []ChainStep
	}
	queue := []queued{{id: startID, path: []ChainStep{{Concept: start}}}}
	visited := map[string]bool{startID: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.id == endID {
			return cur.path, nil
		}
		if len(cur.path) >= maxDepth {
			continue
		}

		related, err := r.Store.GetRelated(ctx, cur.id, nil, 1)
		if err != nil {
			return nil, err
		}
		for _, rc := range related {
			if visited[rc.Concept.ID] {
				continue
			}
			visited[rc.Concept.ID] = true

			newPath := make([]ChainStep, len(cur.path))
			copy(newPath, cur.path)
			newPath[len(newPath)-1].RelationType = string(rc.Relation.Type)
			newPath = append(newPath, ChainStep{Concept: rc.Concept})

			if rc.Concept.ID == endID {
				return newPath, nil
			}
			queue = append(queue, queued{id: rc.Concept.ID, path: newPath})
		}
	}
	return nil, nil
}
