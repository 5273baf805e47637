package store

import (
	"context"
	"encoding/json"

	"github.com/remind-mem/remind/internal/model"
)

// exportDocument is the top-level shape of the export format (spec §6):
// version, concepts, episodes, entities, mentions, entity_relations.
// Embedding vectors serialize as JSON number arrays.
type exportDocument struct {
	Version        int                     `json:"version"`
	Concepts       []*model.Concept        `json:"concepts"`
	Episodes       []*model.Episode        `json:"episodes"`
	Entities       []*model.Entity         `json:"entities"`
	Mentions       []model.Mention         `json:"mentions"`
	EntityRelations []*model.EntityRelation `json:"entity_relations"`
}

const exportVersion = 1

// ExportData produces a full-store JSON export document.
func (s *Store) ExportData(ctx context.Context) ([]byte, error) {
	concepts, err := s.GetAllConcepts(ctx)
	if err != nil {
		return nil, err
	}
	episodes, err := s.queryEpisodes(ctx, `SELECT `+episodeColumns+` FROM episodes`)
	if err != nil {
		return nil, err
	}
	entities, err := s.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}
	mentions, err := s.allMentions(ctx)
	if err != nil {
		return nil, err
	}
	relations, err := s.allEntityRelations(ctx)
	if err != nil {
		return nil, err
	}

	doc := exportDocument{
		Version:         exportVersion,
		Concepts:        concepts,
		Episodes:        episodes,
		Entities:        entities,
		Mentions:        mentions,
		EntityRelations: relations,
	}
	return json.Marshal(doc)
}

// ImportData merges a previously-exported document into the store using
// upsert semantics (spec §4.1 import_data).
func (s *Store) ImportData(ctx context.Context, data []byte) error {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for _, e := range doc.Entities {
		if err := s.AddEntity(ctx, e); err != nil {
			return err
		}
	}
	for _, ep := range doc.Episodes {
		existing, err := s.GetEpisode(ctx, ep.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := s.AddEpisode(ctx, ep); err != nil {
				return err
			}
		} else if err := s.UpdateEpisode(ctx, ep); err != nil {
			return err
		}
	}
	for _, m := range doc.Mentions {
		if err := s.AddMention(ctx, m.EpisodeID, m.EntityID); err != nil {
			return err
		}
	}
	// Concepts are written without relations first so that relations to
	// concepts later in the document satisfy the foreign key.
	for _, c := range doc.Concepts {
		existing, err := s.GetConcept(ctx, c.ID)
		if err != nil {
			return err
		}
		bare := *c
		bare.Relations = nil
		if existing == nil {
			if err := s.AddConcept(ctx, &bare); err != nil {
				return err
			}
		}
	}
	for _, c := range doc.Concepts {
		if err := s.UpdateConcept(ctx, c); err != nil {
			return err
		}
	}
	for _, r := range doc.EntityRelations {
		if err := s.AddEntityRelation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) allMentions(ctx context.Context) ([]model.Mention, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT episode_id, entity_id FROM mentions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Mention
	for rows.Next() {
		var m model.Mention
		if err := rows.Scan(&m.EpisodeID, &m.EntityID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) allEntityRelations(ctx context.Context) ([]*model.EntityRelation, error) {
	return s.queryEntityRelations(ctx, `SELECT source_id, target_id, relation_type, strength, context, source_episode_id FROM entity_relations`)
}
