// Package extractor implements the single-episode extraction pipeline:
// classify episode type, surface entities, propose entity-to-entity
// relations, and deduplicate against the store (spec §4.3).
package extractor

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/remind-mem/remind/internal/llm"
	"github.com/remind-mem/remind/internal/model"
	"github.com/remind-mem/remind/internal/store"
)

// MaxContentLength is the default cap on episode content sent to the LLM
// for extraction (spec §4.3, §6); content beyond this is truncated with a
// visible marker.
const MaxContentLength = 2000

const extractionSystemPrompt = `You are an information extraction system. Your job is to:

1. Classify the type of memory/episode
2. Extract entities mentioned in the text
3. Identify relationships between extracted entities

Be conservative - only extract entities that are clearly mentioned.
Prefer specific entity types (file, function) over generic ones (subject).
Keep entity names SHORT (under 30 characters).
Only include relationships that are explicitly stated or strongly implied.
Respond with ONLY valid JSON, no explanations.`

// Extractor runs the extraction pipeline against an LLM and persists
// results (with dedup) through a Store.
type Extractor struct {
	LLM    llm.Completer
	Store  *store.Store
	Logger *log.Logger
}

// New constructs an Extractor. logger may be nil, in which case log.Default() is used.
func New(completer llm.Completer, st *store.Store, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{LLM: completer, Store: st, Logger: logger}
}

type rawEntity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type rawEntityRelationship struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength"`
	Context      string  `json:"context"`
}

type rawExtraction struct {
	Type                 string                   `json:"type"`
	Title                string                   `json:"title"`
	Entities             []rawEntity              `json:"entities"`
	EntityRelationships  []rawEntityRelationship  `json:"entity_relationships"`
}

func truncate(content string) string {
	if len(content) > MaxContentLength {
		return content[:MaxContentLength] + "...[truncated]"
	}
	return content
}

func buildExtractionPrompt(content string) string {
	var b strings.Builder
	b.WriteString("Classify and extract from this text:\n\n")
	b.WriteString(content)
	b.WriteString(`

Return JSON:
{
  "type": "observation|decision|question|meta|preference",
  "title": "Short descriptive title (5-10 words)",
  "entities": [{"type": "file|function|class|person|subject|tool|project", "id": "type:name", "name": "short name"}],
  "entity_relationships": [{"source": "type:name", "target": "type:name", "relationship": "verb or description", "strength": 0.7}]
}

Types: observation=noticed/learned, decision=choice made, question=uncertainty, meta=about thinking, preference=opinion/value
Keep entity names under 30 chars. Empty arrays if none found. Strength is 0.0-1.0 confidence.`)
	return b.String()
}

// Extract classifies content and surfaces its entities/relations. Failures
// of any kind are swallowed per spec §7 propagation policy: the result
// falls back to {episode_type: observation, entities: []} rather than
// returning an error.
func (x *Extractor) Extract(ctx context.Context, content string) model.ExtractionResult {
	if strings.TrimSpace(content) == "" {
		return model.ExtractionResult{EpisodeType: model.EpisodeObservation}
	}

	truncated := truncate(content)
	prompt := buildExtractionPrompt(truncated)

	raw, err := x.LLM.CompleteJSON(ctx, prompt, extractionSystemPrompt, 0.1, 1024)
	if err != nil {
		x.Logger.Printf("extraction: llm call failed: %v", err)
		return model.ExtractionResult{EpisodeType: model.EpisodeObservation}
	}

	var parsed rawExtraction
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		x.Logger.Printf("extraction: json decode error, attempting recovery: %v", jsonErr)
		recovered := tryFixJSON(raw)
		if recovered == nil {
			x.Logger.Printf("extraction: recovery failed, falling back to observation")
			return model.ExtractionResult{EpisodeType: model.EpisodeObservation}
		}
		b, _ := json.Marshal(recovered)
		if err := json.Unmarshal(b, &parsed); err != nil {
			return model.ExtractionResult{EpisodeType: model.EpisodeObservation}
		}
	}

	return toExtractionResult(parsed)
}

func toExtractionResult(parsed rawExtraction) model.ExtractionResult {
	et := model.EpisodeType(parsed.Type)
	if !model.ValidEpisodeType(et) {
		et = model.EpisodeObservation
	}

	entities := make([]model.Entity, 0, len(parsed.Entities))
	for _, re := range parsed.Entities {
		t := model.EntityType(re.Type)
		if !model.ValidEntityType(t) {
			t = model.EntityOther
		}
		name := re.Name
		if name == "" {
			if _, n, ok := model.ParseEntityID(re.ID); ok {
				name = n
			}
		}
		entities = append(entities, *model.NewEntity(t, name))
	}

	relations := make([]model.EntityRelation, 0, len(parsed.EntityRelationships))
	for _, rr := range parsed.EntityRelationships {
		if rr.Source == "" || rr.Target == "" || rr.Relationship == "" {
			continue
		}
		strength := rr.Strength
		if strength == 0 {
			strength = 0.5
		}
		relations = append(relations, model.EntityRelation{
			SourceID: rr.Source, TargetID: rr.Target,
			RelationType: rr.Relationship, Strength: strength, Context: rr.Context,
		})
	}

	return model.ExtractionResult{EpisodeType: et, Title: parsed.Title, Entities: entities, EntityRelations: relations}
}

// ExtractAndStore runs Extract against ep.Content, applies entity dedup
// against the store (Invariant E1/E2 via FindEntityByName), rewrites
// ep.EntityIDs to the deduplicated ids, persists the episode and its
// mentions/relations, and marks entities_extracted/relations_extracted.
func (x *Extractor) ExtractAndStore(ctx context.Context, ep *model.Episode) (model.ExtractionResult, error) {
	result := x.Extract(ctx, ep.Content)

	ep.EpisodeType = result.EpisodeType
	if result.Title != "" {
		ep.Title = result.Title
	}
	ep.EntitiesExtracted = true
	ep.RelationsExtracted = true

	finalIDs := make([]string, 0, len(result.Entities))
	for _, e := range result.Entities {
		existing, err := x.Store.FindEntityByName(ctx, e.DisplayName)
		if err != nil {
			return result, err
		}
		entity := e
		if existing != nil {
			entity = *existing
			if existing.Type != e.Type {
				entity.Type = e.Type
				if err := x.Store.AddEntity(ctx, &entity); err != nil {
					return result, err
				}
			}
		} else {
			if err := x.Store.AddEntity(ctx, &entity); err != nil {
				return result, err
			}
		}
		finalIDs = append(finalIDs, entity.ID)
		if err := x.Store.AddMention(ctx, ep.ID, entity.ID); err != nil {
			return result, err
		}
	}
	ep.EntityIDs = finalIDs

	if err := x.Store.UpdateEpisode(ctx, ep); err != nil {
		return result, err
	}

	for _, rel := range result.EntityRelations {
		r := rel
		r.SourceEpisodeID = &ep.ID
		if err := x.Store.AddEntityRelation(ctx, &r); err != nil {
			return result, err
		}
	}

	return result, nil
}

const relationsOnlySystemPrompt = extractionSystemPrompt

func buildRelationsOnlyPrompt(content string, entityIDs []string) string {
	var b strings.Builder
	b.WriteString("Given this text and its already-identified entities, identify relationships between them:\n\nText: ")
	b.WriteString(content)
	b.WriteString("\n\nEntities present: ")
	b.WriteString(strings.Join(entityIDs, ", "))
	b.WriteString(`

Return JSON with relationships between these entities:
{
  "entity_relationships": [{"source": "entity_id", "target": "entity_id", "relationship": "verb or description", "strength": 0.7}]
}

Only identify relationships that are explicitly stated or strongly implied in the text.
Use the exact entity IDs from the list above.
Empty array if no relationships found. Strength is 0.0-1.0 confidence.`)
	return b.String()
}

// ExtractRelationsOnly backfills entity-to-entity relations for an episode
// that already has entities, skipping entity pairs that are already
// related and avoiding the LLM call entirely when nothing is left to ask
// about (spec §4.3 second operation).
func (x *Extractor) ExtractRelationsOnly(ctx context.Context, ep *model.Episode) ([]model.EntityRelation, error) {
	if len(ep.EntityIDs) < 2 {
		return nil, nil
	}

	existingPairs, err := x.Store.GetExistingRelationPairs(ctx, ep.EntityIDs)
	if err != nil {
		return nil, err
	}

	withUnrelated := make(map[string]bool)
	for i, a := range ep.EntityIDs {
		for _, b := range ep.EntityIDs[i+1:] {
			if !existingPairs[[2]string{a, b}] {
				withUnrelated[a] = true
				withUnrelated[b] = true
			}
		}
	}
	if len(withUnrelated) == 0 {
		return nil, nil
	}

	filtered := make([]string, 0, len(withUnrelated))
	for _, id := range ep.EntityIDs {
		if withUnrelated[id] {
			filtered = append(filtered, id)
		}
	}
	filteredSet := make(map[string]bool, len(filtered))
	for _, id := range filtered {
		filteredSet[id] = true
	}

	prompt := buildRelationsOnlyPrompt(truncate(ep.Content), filtered)
	raw, err := x.LLM.CompleteJSON(ctx, prompt, relationsOnlySystemPrompt, 0.1, 512)
	if err != nil {
		x.Logger.Printf("relation extraction failed for %s: %v", ep.ID, err)
		return nil, nil
	}

	var parsed struct {
		EntityRelationships []rawEntityRelationship `json:"entity_relationships"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		x.Logger.Printf("relation extraction json decode failed for %s: %v", ep.ID, err)
		return nil, nil
	}

	var out []model.EntityRelation
	for _, rr := range parsed.EntityRelationships {
		if rr.Source == "" || rr.Target == "" || rr.Relationship == "" {
			continue
		}
		if !filteredSet[rr.Source] || !filteredSet[rr.Target] {
			continue
		}
		if existingPairs[[2]string{rr.Source, rr.Target}] {
			continue
		}
		strength := rr.Strength
		if strength == 0 {
			strength = 0.5
		}
		epID := ep.ID
		out = append(out, model.EntityRelation{
			SourceID: rr.Source, TargetID: rr.Target, RelationType: rr.Relationship,
			Strength: strength, Context: rr.Context, SourceEpisodeID: &epID,
		})
	}
	return out, nil
}

// ExtractAndStoreRelationsOnly runs ExtractRelationsOnly, persists any
// discovered relations, and marks the episode's relations_extracted flag.
func (x *Extractor) ExtractAndStoreRelationsOnly(ctx context.Context, ep *model.Episode) (int, error) {
	relations, err := x.ExtractRelationsOnly(ctx, ep)
	if err != nil {
		return 0, err
	}
	for _, rel := range relations {
		r := rel
		if err := x.Store.AddEntityRelation(ctx, &r); err != nil {
			return 0, err
		}
	}
	ep.RelationsExtracted = true
	if err := x.Store.UpdateEpisode(ctx, ep); err != nil {
		return 0, err
	}
	return len(relations), nil
}
