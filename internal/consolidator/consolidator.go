// Package consolidator implements the two-phase consolidation cycle:
// per-episode extraction followed by a single LLM call that generalizes a
// batch of episodes into concept updates, new concepts, and new relations
// (spec §4.2).
package consolidator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remind-mem/remind/internal/extractor"
	"github.com/remind-mem/remind/internal/llm"
	"github.com/remind-mem/remind/internal/model"
	"github.com/remind-mem/remind/internal/store"
)

// MinBatchSize is the minimum number of unconsolidated episodes required
// before an unforced Consolidate call will invoke the LLM (spec §4.2).
const MinBatchSize = 3

// defaultNewConceptConfidence is applied to a proposed new_concept whose
// confidence field is absent from the generalization response, matching
// _create_concept's default in the original implementation.
const defaultNewConceptConfidence = 0.5

// Consolidator runs extraction and generalization over the episode backlog.
type Consolidator struct {
	LLM           llm.Completer
	Embedder      llm.Embedder
	Store         *store.Store
	Extractor     *extractor.Extractor
	MinConfidence float64
	BatchSize     int
	Logger        *log.Logger
}

// New constructs a Consolidator. logger may be nil, in which case
// log.Default() is used.
func New(completer llm.Completer, embedder llm.Embedder, st *store.Store, x *extractor.Extractor, minConfidence float64, batchSize int, logger *log.Logger) *Consolidator {
	if logger == nil {
		logger = log.Default()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Consolidator{
		LLM: completer, Embedder: embedder, Store: st, Extractor: x,
		MinConfidence: minConfidence, BatchSize: batchSize, Logger: logger,
	}
}

type planUpdate struct {
	ConceptID       string   `json:"concept_id"`
	NewTitle        string   `json:"new_title"`
	NewSummary      string   `json:"new_summary"`
	ConfidenceDelta float64  `json:"confidence_delta"`
	SourceEpisodes  []string `json:"source_episodes"`
	AddExceptions   []string `json:"add_exceptions"`
	AddTags         []string `json:"add_tags"`
}

type planRelation struct {
	Type     string  `json:"type"`
	TargetID string  `json:"target_id"`
	Strength float64 `json:"strength"`
	Context  string  `json:"context"`
}

type planNewConcept struct {
	TempID         string         `json:"temp_id"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	Confidence     *float64       `json:"confidence"`
	SourceEpisodes []string       `json:"source_episodes"`
	Conditions     string         `json:"conditions"`
	Exceptions     []string       `json:"exceptions"`
	Tags           []string       `json:"tags"`
	Relations      []planRelation `json:"relations"`
}

type planTopRelation struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
	Context  string  `json:"context"`
}

type planContradiction struct {
	ConceptID  string `json:"concept_id"`
	Evidence   string `json:"evidence"`
	Resolution string `json:"resolution"`
}

type consolidationPlan struct {
	Analysis       string              `json:"analysis"`
	Updates        []planUpdate        `json:"updates"`
	NewConcepts    []planNewConcept    `json:"new_concepts"`
	NewRelations   []planTopRelation   `json:"new_relations"`
	Contradictions []planContradiction `json:"contradictions"`
}

// Consolidate runs the full cycle: extraction over any episodes that still
// need it, then (if enough unconsolidated episodes exist, or force is set)
// a single generalization pass over a batch of them.
func (c *Consolidator) Consolidate(ctx context.Context, force bool) (*model.ConsolidationResult, error) {
	if err := c.runExtractionPhase(ctx); err != nil {
		return nil, fmt.Errorf("extraction phase: %w", err)
	}
	return c.runGeneralizationPhase(ctx, force)
}

// runExtractionPhase runs entity extraction and relation extraction over
// any episodes still missing them. Individual episode failures are logged
// and skipped rather than aborting the batch (spec §4.2, §7).
func (c *Consolidator) runExtractionPhase(ctx context.Context) error {
	unextracted, err := c.Store.GetUnextractedEpisodes(ctx, c.BatchSize)
	if err != nil {
		return err
	}
	for _, ep := range unextracted {
		if _, err := c.Extractor.ExtractAndStore(ctx, ep); err != nil {
			c.Logger.Printf("consolidation: extraction failed for episode %s: %v", ep.ID, err)
		}
	}

	needRelations, err := c.Store.GetUnextractedRelationEpisodes(ctx, c.BatchSize)
	if err != nil {
		return err
	}
	for _, ep := range needRelations {
		if _, err := c.Extractor.ExtractAndStoreRelationsOnly(ctx, ep); err != nil {
			c.Logger.Printf("consolidation: relation extraction failed for episode %s: %v", ep.ID, err)
		}
	}
	return nil
}

// runGeneralizationPhase fetches a batch of unconsolidated episodes, skips
// (returning a zero result) if there are too few and force is not set,
// otherwise builds a single LLM prompt and applies the returned plan.
func (c *Consolidator) runGeneralizationPhase(ctx context.Context, force bool) (*model.ConsolidationResult, error) {
	episodes, err := c.Store.GetUnconsolidatedEpisodes(ctx, c.BatchSize)
	if err != nil {
		return nil, err
	}
	result := &model.ConsolidationResult{}
	if len(episodes) == 0 || (len(episodes) < MinBatchSize && !force) {
		return result, nil
	}

	summaries, err := c.Store.GetConceptsSummary(ctx)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(summaries, episodes)
	raw, err := c.LLM.CompleteJSON(ctx, prompt, systemPrompt, 0.2, 4096)
	if err != nil {
		return nil, fmt.Errorf("consolidation llm call: %w", err)
	}

	var plan consolidationPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("consolidation response decode: %w", err)
	}

	idMapping := make(map[string]string, len(plan.NewConcepts))

	for _, u := range plan.Updates {
		applied, err := c.applyUpdate(ctx, u)
		if err != nil {
			return nil, err
		}
		if applied {
			result.ConceptsUpdated++
			result.UpdatedConceptIDs = append(result.UpdatedConceptIDs, u.ConceptID)
		}
	}

	type deferredRelation struct {
		sourceTempID string
		rel          planRelation
	}
	var deferred []deferredRelation

	for _, nc := range plan.NewConcepts {
		for _, rel := range nc.Relations {
			deferred = append(deferred, deferredRelation{sourceTempID: nc.TempID, rel: rel})
		}
		realID, created, err := c.createConcept(ctx, nc)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		idMapping[nc.TempID] = realID
		result.ConceptsCreated++
		result.CreatedConceptIDs = append(result.CreatedConceptIDs, realID)
	}

	resolveID := func(id string) string {
		if strings.HasPrefix(id, "NEW_") {
			if real, ok := idMapping[id]; ok {
				return real
			}
		}
		return id
	}

	for _, dr := range deferred {
		sourceID, ok := idMapping[dr.sourceTempID]
		if !ok {
			continue
		}
		if err := c.addRelation(ctx, sourceID, resolveID(dr.rel.TargetID), dr.rel); err != nil {
			return nil, err
		}
	}

	for _, nr := range plan.NewRelations {
		sourceID := resolveID(nr.SourceID)
		targetID := resolveID(nr.TargetID)
		if err := c.addRelation(ctx, sourceID, targetID, planRelation{Type: nr.Type, Strength: nr.Strength, Context: nr.Context}); err != nil {
			return nil, err
		}
	}

	result.ContradictionsFound = len(plan.Contradictions)

	for _, ep := range episodes {
		ep.Consolidated = true
		if err := c.Store.UpdateEpisode(ctx, ep); err != nil {
			return nil, err
		}
	}
	result.EpisodesProcessed = len(episodes)

	return result, nil
}

// applyUpdate applies a single update entry to an existing concept,
// re-embedding its summary if changed, clamping the confidence delta, and
// merging exceptions/tags/source episodes uniquely. Returns false (and logs)
// if the target concept no longer exists.
func (c *Consolidator) applyUpdate(ctx context.Context, u planUpdate) (bool, error) {
	concept, err := c.Store.GetConcept(ctx, u.ConceptID)
	if err != nil {
		return false, err
	}
	if concept == nil {
		c.Logger.Printf("consolidation: update references missing concept %s, skipping", u.ConceptID)
		return false, nil
	}

	summaryChanged := u.NewSummary != "" && u.NewSummary != concept.Summary
	if u.NewTitle != "" {
		concept.Title = u.NewTitle
	}
	if summaryChanged {
		concept.Summary = u.NewSummary
		embedding, err := c.Embedder.Embed(ctx, concept.Summary)
		if err != nil {
			return false, fmt.Errorf("embed updated summary for %s: %w", concept.ID, err)
		}
		concept.Embedding = embedding
	}

	concept.Confidence = model.ClampConfidence(concept.Confidence + u.ConfidenceDelta)
	concept.InstanceCount++
	for _, ep := range u.SourceEpisodes {
		concept.AddSourceEpisode(ep)
	}
	for _, exc := range u.AddExceptions {
		concept.AddException(exc)
	}
	for _, tag := range u.AddTags {
		concept.AddTag(tag)
	}
	concept.UpdatedAt = time.Now()

	if err := c.Store.UpdateConcept(ctx, concept); err != nil {
		return false, err
	}
	return true, nil
}

// createConcept embeds and persists a new concept, rejecting it (logging,
// not erroring) if its proposed confidence is below MinConfidence.
func (c *Consolidator) createConcept(ctx context.Context, nc planNewConcept) (id string, created bool, err error) {
	confidence := defaultNewConceptConfidence
	if nc.Confidence != nil {
		confidence = *nc.Confidence
	}
	if confidence < c.MinConfidence {
		c.Logger.Printf("consolidation: rejecting new concept %q, confidence %.2f below minimum %.2f", nc.Title, confidence, c.MinConfidence)
		return "", false, nil
	}

	embedding, err := c.Embedder.Embed(ctx, nc.Summary)
	if err != nil {
		return "", false, fmt.Errorf("embed new concept %q: %w", nc.Title, err)
	}

	instanceCount := len(nc.SourceEpisodes)
	if instanceCount == 0 {
		instanceCount = 1
	}

	now := time.Now()
	concept := &model.Concept{
		ID:             newConceptID(),
		Title:          nc.Title,
		Summary:        nc.Summary,
		Confidence:     confidence,
		InstanceCount:  instanceCount,
		CreatedAt:      now,
		UpdatedAt:      now,
		SourceEpisodes: nc.SourceEpisodes,
		Conditions:     nc.Conditions,
		Exceptions:     nc.Exceptions,
		Tags:           nc.Tags,
		Embedding:      embedding,
	}
	if err := c.Store.AddConcept(ctx, concept); err != nil {
		return "", false, err
	}
	return concept.ID, true, nil
}

// addRelation attaches rel as an outgoing edge from sourceID to targetID,
// skipping (and logging) if either endpoint does not exist.
func (c *Consolidator) addRelation(ctx context.Context, sourceID, targetID string, rel planRelation) error {
	source, err := c.Store.GetConcept(ctx, sourceID)
	if err != nil {
		return err
	}
	if source == nil {
		c.Logger.Printf("consolidation: relation references missing source concept %s, skipping", sourceID)
		return nil
	}
	target, err := c.Store.GetConcept(ctx, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		c.Logger.Printf("consolidation: relation references missing target concept %s, skipping", targetID)
		return nil
	}

	relType := model.ConceptRelationType(rel.Type)
	if !model.ValidConceptRelationType(relType) {
		c.Logger.Printf("consolidation: unknown relation type %q, skipping", rel.Type)
		return nil
	}
	strength := rel.Strength
	if strength == 0 {
		strength = 0.5
	}

	source.AddRelation(model.ConceptRelation{TargetID: targetID, Type: relType, Strength: strength, Context: rel.Context})
	source.UpdatedAt = time.Now()
	return c.Store.UpdateConcept(ctx, source)
}

// newConceptID mints an 8-character opaque concept id (spec §3).
func newConceptID() string {
	return uuid.New().String()[:8]
}
