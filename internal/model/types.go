// Package model defines the persisted record types shared by the store,
// extractor, consolidator, and retriever.
package model

import (
	"strings"
	"time"
)

// EntityType is the fixed set of referents entities may tag.
type EntityType string

const (
	EntityFile    EntityType = "file"
	EntityFunc    EntityType = "function"
	EntityClass   EntityType = "class"
	EntityModule  EntityType = "module"
	EntitySubject EntityType = "subject"
	EntityPerson  EntityType = "person"
	EntityProject EntityType = "project"
	EntityTool    EntityType = "tool"
	EntityOther   EntityType = "other"
)

// ValidEntityType reports whether t is one of the fixed entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityFile, EntityFunc, EntityClass, EntityModule, EntitySubject,
		EntityPerson, EntityProject, EntityTool, EntityOther:
		return true
	}
	return false
}

// EpisodeType classifies a raw observation.
type EpisodeType string

const (
	EpisodeObservation EpisodeType = "observation"
	EpisodeDecision    EpisodeType = "decision"
	EpisodeQuestion    EpisodeType = "question"
	EpisodeMeta        EpisodeType = "meta"
	EpisodePreference  EpisodeType = "preference"
)

// ValidEpisodeType reports whether t is one of the fixed episode types.
func ValidEpisodeType(t EpisodeType) bool {
	switch t {
	case EpisodeObservation, EpisodeDecision, EpisodeQuestion, EpisodeMeta, EpisodePreference:
		return true
	}
	return false
}

// EpisodeTypeOrder is the display/grouping order used by entity-centric
// formatting (decision, question, preference, observation, meta).
var EpisodeTypeOrder = []EpisodeType{
	EpisodeDecision, EpisodeQuestion, EpisodePreference, EpisodeObservation, EpisodeMeta,
}

// ConceptRelationType is the fixed set of directed concept-graph edge kinds.
type ConceptRelationType string

const (
	RelImplies     ConceptRelationType = "implies"
	RelContradicts ConceptRelationType = "contradicts"
	RelSpecializes ConceptRelationType = "specializes"
	RelGeneralizes ConceptRelationType = "generalizes"
	RelCauses      ConceptRelationType = "causes"
	RelCorrelates  ConceptRelationType = "correlates"
	RelPartOf      ConceptRelationType = "part_of"
	RelContextOf   ConceptRelationType = "context_of"
)

// ValidConceptRelationType reports whether t is one of the fixed relation types.
func ValidConceptRelationType(t ConceptRelationType) bool {
	switch t {
	case RelImplies, RelContradicts, RelSpecializes, RelGeneralizes,
		RelCauses, RelCorrelates, RelPartOf, RelContextOf:
		return true
	}
	return false
}

// DefaultRelationWeight is the per-relation-type spread weight used by the
// retriever (§4.4); relation types outside the table use 0.5.
var DefaultRelationWeight = map[ConceptRelationType]float64{
	RelImplies:     0.9,
	RelSpecializes: 0.85,
	RelGeneralizes: 0.85,
	RelPartOf:      0.8,
	RelContextOf:   0.7,
	RelCauses:      0.7,
	RelCorrelates:  0.6,
	RelContradicts: 0.3,
}

const defaultRelationWeight = 0.5

// RelationWeight returns the configured spread weight for t, or the
// default weight if t is not one of the known relation types.
func RelationWeight(t ConceptRelationType) float64 {
	if w, ok := DefaultRelationWeight[t]; ok {
		return w
	}
	return defaultRelationWeight
}

// Normalize implements the canonical name-folding used for entity ids:
// lowercase, collapse internal whitespace, trim.
func Normalize(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// EntityID builds the canonical "<type>:<normalized_name>" id (Invariant E1).
// An empty normalized name yields the literal entity name "unknown".
func EntityID(t EntityType, displayName string) string {
	n := Normalize(displayName)
	if n == "" {
		n = "unknown"
	}
	return string(t) + ":" + n
}

// ParseEntityID splits a canonical id back into its type and normalized
// name components. ok is false if id has no ':' separator.
func ParseEntityID(id string) (t EntityType, normalizedName string, ok bool) {
	i := strings.IndexByte(id, ':')
	if i < 0 {
		return "", "", false
	}
	return EntityType(id[:i]), id[i+1:], true
}

// Entity is a named referent that episodes may mention.
type Entity struct {
	ID          string            `json:"id"`
	Type        EntityType        `json:"type"`
	DisplayName string            `json:"display_name"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewEntity constructs an Entity with its id derived per Invariant E1.
func NewEntity(t EntityType, displayName string) *Entity {
	return &Entity{
		ID:          EntityID(t, displayName),
		Type:        t,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
}

// Episode is a raw, timestamped observation.
type Episode struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	Content            string            `json:"content"`
	Title              string            `json:"title,omitempty"`
	EpisodeType        EpisodeType       `json:"episode_type"`
	EntityIDs          []string          `json:"entity_ids"`
	Consolidated       bool              `json:"consolidated"`
	EntitiesExtracted  bool              `json:"entities_extracted"`
	RelationsExtracted bool              `json:"relations_extracted"`
	Confidence         float64           `json:"confidence"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ClampConfidence clamps c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// PromptMetadata returns a copy of Metadata with keys starting with "_"
// removed, matching the pipeline-internal reservation in spec §3.
func (e *Episode) PromptMetadata() map[string]string {
	out := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// Mention is an undirected episode<->entity link, unique by the pair.
type Mention struct {
	EpisodeID string `json:"episode_id"`
	EntityID  string `json:"entity_id"`
}

// ConceptRelation is a directed, typed, strength-weighted edge between concepts.
type ConceptRelation struct {
	TargetID string              `json:"target_id"`
	Type     ConceptRelationType `json:"type"`
	Strength float64             `json:"strength"`
	Context  string              `json:"context,omitempty"`
}

// Concept is the semantic-memory unit produced by consolidation.
type Concept struct {
	ID             string            `json:"id"`
	Title          string            `json:"title,omitempty"`
	Summary        string            `json:"summary"`
	Confidence     float64           `json:"confidence"`
	InstanceCount  int               `json:"instance_count"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Relations      []ConceptRelation `json:"relations"`
	SourceEpisodes []string          `json:"source_episodes"`
	Conditions     string            `json:"conditions,omitempty"`
	Exceptions     []string          `json:"exceptions,omitempty"`
	Embedding      []float32         `json:"embedding,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
}

// AddRelation appends rel unless a relation to the same target of the same
// type already exists (dedup by (target, type), per original_source models.Concept.add_relation).
func (c *Concept) AddRelation(rel ConceptRelation) {
	for _, r := range c.Relations {
		if r.TargetID == rel.TargetID && r.Type == rel.Type {
			return
		}
	}
	c.Relations = append(c.Relations, rel)
}

// addUnique appends s to list if not already present.
func addUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// AddSourceEpisode merges ep into SourceEpisodes uniquely.
func (c *Concept) AddSourceEpisode(ep string) {
	c.SourceEpisodes = addUnique(c.SourceEpisodes, ep)
}

// AddTag merges tag into Tags uniquely.
func (c *Concept) AddTag(tag string) {
	c.Tags = addUnique(c.Tags, tag)
}

// AddException merges exc into Exceptions uniquely.
func (c *Concept) AddException(exc string) {
	c.Exceptions = addUnique(c.Exceptions, exc)
}

// EntityRelation is a directed, free-form-typed edge between two entities.
type EntityRelation struct {
	SourceID        string  `json:"source_id"`
	TargetID        string  `json:"target_id"`
	RelationType    string  `json:"relation_type"`
	Strength        float64 `json:"strength"`
	Context         string  `json:"context,omitempty"`
	SourceEpisodeID *string `json:"source_episode_id,omitempty"`
}

// ConsolidationResult reports the outcome counters of a Consolidate call.
type ConsolidationResult struct {
	EpisodesProcessed   int      `json:"episodes_processed"`
	ConceptsCreated     int      `json:"concepts_created"`
	ConceptsUpdated     int      `json:"concepts_updated"`
	ContradictionsFound int      `json:"contradictions_found"`
	CreatedConceptIDs   []string `json:"created_concept_ids,omitempty"`
	UpdatedConceptIDs   []string `json:"updated_concept_ids,omitempty"`
}

// ActivatedConcept is a scored concept produced by spreading-activation retrieval.
type ActivatedConcept struct {
	Concept    *Concept
	Activation float64
	Source     string // "embedding" or "spread"
	Hops       int
}

// ExtractionResult is the Extractor's per-episode output.
type ExtractionResult struct {
	EpisodeType     EpisodeType
	Title           string
	Entities        []Entity
	EntityRelations []EntityRelation
}

// Stats is the aggregate counters + histograms returned by get_stats.
type Stats struct {
	EpisodeCount            int            `json:"episode_count"`
	ConceptCount            int            `json:"concept_count"`
	EntityCount             int            `json:"entity_count"`
	UnconsolidatedCount     int            `json:"unconsolidated_count"`
	EpisodesByType          map[string]int `json:"episodes_by_type"`
	EntitiesByType          map[string]int `json:"entities_by_type"`
}
