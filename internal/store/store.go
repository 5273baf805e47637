// Package store is the durable persistence layer: embedded SQLite CRUD and
// query primitives for episodes, entities, mentions, concepts, concept
// relations, entity relations, and key-value metadata. All other
// components route state through it (spec §3 "Ownership and lifecycle").
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/remind-mem/remind/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a single-connection SQLite database implementing spec §4.1.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path, applies the
// schema and any pending migrations, and configures it for single-writer
// WAL access, matching the teacher's internal/db.Open pragma sequence.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite behaves best with a single connection per process; multiple
	// connections contend for the write lock and surface SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- Episodes ---

// AddEpisode persists a fully-formed episode.
func (s *Store) AddEpisode(ctx context.Context, ep *model.Episode) error {
	data, err := episodeToRow(ep)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, content, title, data, consolidated, entities_extracted, relations_extracted, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ep.ID, ep.Content, nullIfEmpty(ep.Title), data, boolToInt(ep.Consolidated),
		boolToInt(ep.EntitiesExtracted), boolToInt(ep.RelationsExtracted), ep.Timestamp)
	if err != nil {
		return fmt.Errorf("add episode %s: %w", ep.ID, err)
	}
	return s.syncMentions(ctx, ep)
}

// UpdateEpisode replaces the full row for an existing episode. Monotonic-
// flag enforcement (Invariant Ep1) is the caller's responsibility; this
// silently no-ops if the episode does not exist, matching spec §4.1.
func (s *Store) UpdateEpisode(ctx context.Context, ep *model.Episode) error {
	data, err := episodeToRow(ep)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes
		SET content = ?, title = ?, data = ?, consolidated = ?, entities_extracted = ?, relations_extracted = ?
		WHERE id = ?
	`, ep.Content, nullIfEmpty(ep.Title), data, boolToInt(ep.Consolidated),
		boolToInt(ep.EntitiesExtracted), boolToInt(ep.RelationsExtracted), ep.ID)
	if err != nil {
		return fmt.Errorf("update episode %s: %w", ep.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}
	return s.syncMentions(ctx, ep)
}

func (s *Store) syncMentions(ctx context.Context, ep *model.Episode) error {
	for _, eid := range ep.EntityIDs {
		if err := s.AddMention(ctx, ep.ID, eid); err != nil {
			return err
		}
	}
	return nil
}

// GetEpisode fetches an episode by id, returning (nil, nil) if absent.
func (s *Store) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, title, data, consolidated, entities_extracted, relations_extracted, timestamp
		FROM episodes WHERE id = ?
	`, id)
	return scanEpisode(row)
}

func scanEpisode(row *sql.Row) (*model.Episode, error) {
	var id, content string
	var title sql.NullString
	var data []byte
	var consolidated, entitiesExtracted, relationsExtracted int
	var ts time.Time
	if err := row.Scan(&id, &content, &title, &data, &consolidated, &entitiesExtracted, &relationsExtracted, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rowToEpisode(id, content, title.String, consolidated != 0, entitiesExtracted != 0, relationsExtracted != 0, ts, "", data)
}

func (s *Store) queryEpisodes(ctx context.Context, query string, args ...any) ([]*model.Episode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Episode
	for rows.Next() {
		var id, content string
		var title sql.NullString
		var data []byte
		var consolidated, entitiesExtracted, relationsExtracted int
		var ts time.Time
		if err := rows.Scan(&id, &content, &title, &data, &consolidated, &entitiesExtracted, &relationsExtracted, &ts); err != nil {
			return nil, err
		}
		ep, err := rowToEpisode(id, content, title.String, consolidated != 0, entitiesExtracted != 0, relationsExtracted != 0, ts, "", data)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

const episodeColumns = `id, content, title, data, consolidated, entities_extracted, relations_extracted, timestamp`

// GetUnconsolidatedEpisodes returns up to limit unconsolidated episodes, oldest first.
func (s *Store) GetUnconsolidatedEpisodes(ctx context.Context, limit int) ([]*model.Episode, error) {
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE consolidated = 0 ORDER BY timestamp ASC LIMIT ?
	`, limit)
}

// CountUnconsolidatedEpisodes returns the number of unconsolidated episodes.
func (s *Store) CountUnconsolidatedEpisodes(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE consolidated = 0`).Scan(&n)
	return n, err
}

// GetUnextractedEpisodes returns episodes whose entities have not yet been
// extracted, oldest first.
func (s *Store) GetUnextractedEpisodes(ctx context.Context, limit int) ([]*model.Episode, error) {
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE entities_extracted = 0 ORDER BY timestamp ASC LIMIT ?
	`, limit)
}

// GetUnextractedRelationEpisodes returns episodes with entities already
// extracted, relations not yet extracted, and at least two mentioned entities.
func (s *Store) GetUnextractedRelationEpisodes(ctx context.Context, limit int) ([]*model.Episode, error) {
	eps, err := s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes
		WHERE entities_extracted = 1 AND relations_extracted = 0
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, err
	}
	var out []*model.Episode
	for _, ep := range eps {
		if len(ep.EntityIDs) >= 2 {
			out = append(out, ep)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// GetRecentEpisodes returns the most recently timestamped episodes.
func (s *Store) GetRecentEpisodes(ctx context.Context, limit int) ([]*model.Episode, error) {
	return s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes ORDER BY timestamp DESC LIMIT ?
	`, limit)
}

// GetEpisodesByType returns episodes of the given type, newest first.
func (s *Store) GetEpisodesByType(ctx context.Context, t model.EpisodeType, limit int) ([]*model.Episode, error) {
	eps, err := s.queryEpisodes(ctx, `
		SELECT `+episodeColumns+` FROM episodes ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, err
	}
	var out []*model.Episode
	for _, ep := range eps {
		if ep.EpisodeType == t {
			out = append(out, ep)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- Entities ---

// AddEntity upserts an entity by id, replacing type/display_name on conflict
// (Invariant E2: id itself never changes).
func (s *Store) AddEntity(ctx context.Context, e *model.Entity) error {
	data, err := entityToRow(e)
	if err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, type, display_name, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, display_name = excluded.display_name, data = excluded.data
	`, e.ID, string(e.Type), e.DisplayName, data, createdAt)
	if err != nil {
		return fmt.Errorf("add entity %s: %w", e.ID, err)
	}
	return nil
}

// GetEntity fetches an entity by id, returning (nil, nil) if absent.
func (s *Store) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, display_name, data, created_at FROM entities WHERE id = ?`, id)
	var eid, typ, displayName string
	var data []byte
	var createdAt time.Time
	if err := row.Scan(&eid, &typ, &displayName, &data, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rowToEntity(eid, typ, displayName, createdAt, data)
}

// GetEntitiesByType returns all entities of the given type.
func (s *Store) GetEntitiesByType(ctx context.Context, t model.EntityType) ([]*model.Entity, error) {
	return s.queryEntities(ctx, `SELECT id, type, display_name, data, created_at FROM entities WHERE type = ? ORDER BY created_at ASC`, string(t))
}

// GetAllEntities returns every entity, oldest first.
func (s *Store) GetAllEntities(ctx context.Context) ([]*model.Entity, error) {
	return s.queryEntities(ctx, `SELECT id, type, display_name, data, created_at FROM entities ORDER BY created_at ASC`)
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Entity
	for rows.Next() {
		var id, typ, displayName string
		var data []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &typ, &displayName, &data, &createdAt); err != nil {
			return nil, err
		}
		e, err := rowToEntity(id, typ, displayName, createdAt, data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindEntityByName returns the first entity (by created_at ascending) whose
// display_name normalizes to the same value as name, or nil if none exists.
func (s *Store) FindEntityByName(ctx context.Context, name string) (*model.Entity, error) {
	entities, err := s.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}
	normalized := model.Normalize(name)
	var best *model.Entity
	for _, e := range entities {
		if model.Normalize(e.DisplayName) == normalized {
			if best == nil || e.CreatedAt.Before(best.CreatedAt) {
				best = e
			}
		}
	}
	return best, nil
}

// EntityMentionCount pairs an entity with how many episodes mention it.
type EntityMentionCount struct {
	Entity *model.Entity
	Count  int
}

// GetEntityMentionCounts returns every entity with its mention count,
// sorted by count descending.
func (s *Store) GetEntityMentionCounts(ctx context.Context) ([]EntityMentionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT en.id, en.type, en.display_name, en.data, en.created_at, COUNT(m.episode_id) AS mention_count
		FROM entities en
		LEFT JOIN mentions m ON m.entity_id = en.id
		GROUP BY en.id
		ORDER BY mention_count DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityMentionCount
	for rows.Next() {
		var id, typ, displayName string
		var data []byte
		var createdAt time.Time
		var count int
		if err := rows.Scan(&id, &typ, &displayName, &data, &createdAt, &count); err != nil {
			return nil, err
		}
		e, err := rowToEntity(id, typ, displayName, createdAt, data)
		if err != nil {
			return nil, err
		}
		out = append(out, EntityMentionCount{Entity: e, Count: count})
	}
	return out, rows.Err()
}

// --- Mentions ---

// AddMention idempotently links an episode to an entity.
func (s *Store) AddMention(ctx context.Context, episodeID, entityID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (episode_id, entity_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(episode_id, entity_id) DO NOTHING
	`, episodeID, entityID, time.Now())
	if err != nil {
		return fmt.Errorf("add mention %s/%s: %w", episodeID, entityID, err)
	}
	return nil
}

// GetEpisodesMentioning returns episodes mentioning entityID, newest first.
func (s *Store) GetEpisodesMentioning(ctx context.Context, entityID string, limit int) ([]*model.Episode, error) {
	return s.queryEpisodes(ctx, `
		SELECT e.id, e.content, e.title, e.data, e.consolidated, e.entities_extracted, e.relations_extracted, e.timestamp
		FROM episodes e
		JOIN mentions m ON m.episode_id = e.id
		WHERE m.entity_id = ?
		ORDER BY e.timestamp DESC
		LIMIT ?
	`, entityID, limit)
}

// GetEntitiesMentionedIn returns every entity mentioned in episodeID.
func (s *Store) GetEntitiesMentionedIn(ctx context.Context, episodeID string) ([]*model.Entity, error) {
	return s.queryEntities(ctx, `
		SELECT en.id, en.type, en.display_name, en.data, en.created_at
		FROM entities en
		JOIN mentions m ON m.entity_id = en.id
		WHERE m.episode_id = ?
		ORDER BY en.created_at ASC
	`, episodeID)
}

// --- Concepts ---

// AddConcept inserts a new concept, storing its embedding as a raw f32
// blob and resyncing its outgoing relations into concept_relations.
func (s *Store) AddConcept(ctx context.Context, c *model.Concept) error {
	data, err := conceptToRow(c)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO concepts (id, title, summary, data, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, nullIfEmpty(c.Title), c.Summary, data, encodeEmbedding(c.Embedding), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add concept %s: %w", c.ID, err)
	}
	if err := syncConceptRelationsTx(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateConcept replaces an existing concept's row and resyncs relations.
func (s *Store) UpdateConcept(ctx context.Context, c *model.Concept) error {
	data, err := conceptToRow(c)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE concepts SET title = ?, summary = ?, data = ?, embedding = ?, updated_at = ?
		WHERE id = ?
	`, nullIfEmpty(c.Title), c.Summary, data, encodeEmbedding(c.Embedding), c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update concept %s: %w", c.ID, err)
	}
	if err := syncConceptRelationsTx(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func syncConceptRelationsTx(ctx context.Context, tx *sql.Tx, c *model.Concept) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM concept_relations WHERE source_id = ?`, c.ID); err != nil {
		return fmt.Errorf("clear relations for %s: %w", c.ID, err)
	}
	for _, rel := range c.Relations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO concept_relations (source_id, target_id, type, strength, context)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source_id, target_id, type) DO UPDATE SET strength = excluded.strength, context = excluded.context
		`, c.ID, rel.TargetID, string(rel.Type), rel.Strength, rel.Context)
		if err != nil {
			return fmt.Errorf("sync relation %s->%s: %w", c.ID, rel.TargetID, err)
		}
	}
	return nil
}

// GetConcept fetches a concept by id, returning (nil, nil) if absent.
func (s *Store) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, summary, data, embedding, updated_at FROM concepts WHERE id = ?`, id)
	var cid, summary string
	var title sql.NullString
	var data, embedding []byte
	var updatedAt time.Time
	if err := row.Scan(&cid, &title, &summary, &data, &embedding, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rowToConcept(cid, title.String, summary, updatedAt, data, embedding)
}

// GetAllConcepts returns every concept.
func (s *Store) GetAllConcepts(ctx context.Context) ([]*model.Concept, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, summary, data, embedding, updated_at FROM concepts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Concept
	for rows.Next() {
		var cid, summary string
		var title sql.NullString
		var data, embedding []byte
		var updatedAt time.Time
		if err := rows.Scan(&cid, &title, &summary, &data, &embedding, &updatedAt); err != nil {
			return nil, err
		}
		c, err := rowToConcept(cid, title.String, summary, updatedAt, data, embedding)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConceptSummary is the lightweight projection used in consolidation prompts.
type ConceptSummary struct {
	ID            string
	Title         string
	Summary       string
	Confidence    float64
	InstanceCount int
	Tags          []string
}

// GetConceptsSummary returns {id, title, summary, confidence, instance_count, tags} for every concept.
func (s *Store) GetConceptsSummary(ctx context.Context) ([]ConceptSummary, error) {
	concepts, err := s.GetAllConcepts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ConceptSummary, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, ConceptSummary{
			ID: c.ID, Title: c.Title, Summary: c.Summary,
			Confidence: c.Confidence, InstanceCount: c.InstanceCount, Tags: c.Tags,
		})
	}
	return out, nil
}

// FindByEmbedding returns the top-k (concept, similarity) pairs over all
// concepts with a non-null embedding, sorted by similarity descending.
func (s *Store) FindByEmbedding(ctx context.Context, query []float32, k int) ([]ConceptMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, summary, data, embedding, updated_at FROM concepts WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []ConceptMatch
	for rows.Next() {
		var cid, summary string
		var title sql.NullString
		var data, embedding []byte
		var updatedAt time.Time
		if err := rows.Scan(&cid, &title, &summary, &data, &embedding, &updatedAt); err != nil {
			return nil, err
		}
		c, err := rowToConcept(cid, title.String, summary, updatedAt, data, embedding)
		if err != nil {
			return nil, err
		}
		if len(c.Embedding) == 0 {
			continue
		}
		matches = append(matches, ConceptMatch{Concept: c, Similarity: cosineSimilarity(query, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// ConceptMatch pairs a concept with its similarity to a query embedding.
type ConceptMatch struct {
	Concept    *model.Concept
	Similarity float64
}

// RelatedConcept pairs a concept reached via traversal with the relation
// that was followed to reach it.
type RelatedConcept struct {
	Concept  *model.Concept
	Relation model.ConceptRelation
}

// GetRelated performs a visited-set breadth-first expansion from conceptID
// up to depth hops, optionally filtered to the given relation types.
func (s *Store) GetRelated(ctx context.Context, conceptID string, types []model.ConceptRelationType, depth int) ([]RelatedConcept, error) {
	if depth < 1 {
		depth = 1
	}
	allowed := make(map[model.ConceptRelationType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	visited := map[string]bool{conceptID: true}
	var out []RelatedConcept
	frontier := []string{conceptID}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.outgoingRelations(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, rel := range edges {
				if len(allowed) > 0 && !allowed[rel.Type] {
					continue
				}
				if visited[rel.TargetID] {
					continue
				}
				visited[rel.TargetID] = true
				target, err := s.GetConcept(ctx, rel.TargetID)
				if err != nil {
					return nil, err
				}
				if target == nil {
					continue
				}
				out = append(out, RelatedConcept{Concept: target, Relation: rel})
				next = append(next, rel.TargetID)
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *Store) outgoingRelations(ctx context.Context, conceptID string) ([]model.ConceptRelation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT target_id, type, strength, context FROM concept_relations WHERE source_id = ?`, conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ConceptRelation
	for rows.Next() {
		var targetID, typ string
		var strength float64
		var context sql.NullString
		if err := rows.Scan(&targetID, &typ, &strength, &context); err != nil {
			return nil, err
		}
		out = append(out, model.ConceptRelation{TargetID: targetID, Type: model.ConceptRelationType(typ), Strength: strength, Context: context.String})
	}
	return out, rows.Err()
}

// --- Entity relations ---

// AddEntityRelation upserts an entity relation keyed by (source, target, type).
func (s *Store) AddEntityRelation(ctx context.Context, r *model.EntityRelation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_relations (source_id, target_id, relation_type, strength, context, source_episode_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET strength = excluded.strength, context = excluded.context
	`, r.SourceID, r.TargetID, r.RelationType, r.Strength, r.Context, r.SourceEpisodeID, time.Now())
	if err != nil {
		return fmt.Errorf("add entity relation %s->%s: %w", r.SourceID, r.TargetID, err)
	}
	return nil
}

// GetEntityRelations returns every relation involving entityID as either endpoint.
func (s *Store) GetEntityRelations(ctx context.Context, entityID string) ([]*model.EntityRelation, error) {
	return s.queryEntityRelations(ctx, `
		SELECT source_id, target_id, relation_type, strength, context, source_episode_id
		FROM entity_relations WHERE source_id = ? OR target_id = ?
	`, entityID, entityID)
}

// GetEntityRelationsFrom returns relations where entityID is the source.
func (s *Store) GetEntityRelationsFrom(ctx context.Context, entityID string) ([]*model.EntityRelation, error) {
	return s.queryEntityRelations(ctx, `
		SELECT source_id, target_id, relation_type, strength, context, source_episode_id
		FROM entity_relations WHERE source_id = ?
	`, entityID)
}

func (s *Store) queryEntityRelations(ctx context.Context, query string, args ...any) ([]*model.EntityRelation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.EntityRelation
	for rows.Next() {
		var r model.EntityRelation
		var context, sourceEp sql.NullString
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.RelationType, &r.Strength, &context, &sourceEp); err != nil {
			return nil, err
		}
		r.Context = context.String
		if sourceEp.Valid {
			v := sourceEp.String
			r.SourceEpisodeID = &v
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeleteEntityRelationsFromEpisode deletes relations attributed to episodeID, returning the count deleted.
func (s *Store) DeleteEntityRelationsFromEpisode(ctx context.Context, episodeID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entity_relations WHERE source_episode_id = ?`, episodeID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetExistingRelationPairs returns the set of (source, target) pairs, in
// either direction, for which any relation already exists among the given
// entity ids.
func (s *Store) GetExistingRelationPairs(ctx context.Context, entityIDs []string) (map[[2]string]bool, error) {
	set := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		set[id] = true
	}
	out := make(map[[2]string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, target_id FROM entity_relations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		if set[a] && set[b] {
			out[[2]string{a, b}] = true
			out[[2]string{b, a}] = true
		}
	}
	return out, rows.Err()
}

// --- Bulk / maintenance ---

// DeleteAllConcepts deletes every concept (and, via FK cascade, their
// outgoing relations), returning the count deleted.
func (s *Store) DeleteAllConcepts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM concepts`).Scan(&n); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM concepts`); err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteAllEntities deletes every entity (and, via FK cascade, mentions and
// entity relations), returning the count deleted.
func (s *Store) DeleteAllEntities(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return 0, err
	}
	return n, nil
}

// ResetEpisodeFlags clears consolidated/entities_extracted/relations_extracted
// and the entity_ids list on every episode, returning the count reset. Spec
// §4.1 also lists clearing concepts_activated; the §3 model has no such
// field on Episode, so there is nothing here to reset for it.
func (s *Store) ResetEpisodeFlags(ctx context.Context) (int, error) {
	eps, err := s.queryEpisodes(ctx, `SELECT `+episodeColumns+` FROM episodes`)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, ep := range eps {
		ep.Consolidated, ep.EntitiesExtracted, ep.RelationsExtracted = false, false, false
		ep.EntityIDs = nil
		data, err := episodeToRow(ep)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE episodes SET data = ?, consolidated = 0, entities_extracted = 0, relations_extracted = 0 WHERE id = ?
		`, data, ep.ID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(eps), nil
}

// --- Metadata key-value table ---

// GetMetadata returns the stored string value for key, or ("", false) if absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// --- Stats ---

// GetStats returns aggregate counters and type histograms.
func (s *Store) GetStats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{
		EpisodesByType: make(map[string]int),
		EntitiesByType: make(map[string]int),
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&stats.EpisodeCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM concepts`).Scan(&stats.ConceptCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&stats.EntityCount); err != nil {
		return nil, err
	}
	n, err := s.CountUnconsolidatedEpisodes(ctx)
	if err != nil {
		return nil, err
	}
	stats.UnconsolidatedCount = n

	eps, err := s.queryEpisodes(ctx, `SELECT `+episodeColumns+` FROM episodes`)
	if err != nil {
		return nil, err
	}
	for _, ep := range eps {
		stats.EpisodesByType[string(ep.EpisodeType)]++
	}
	entities, err := s.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		stats.EntitiesByType[string(e.Type)]++
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
