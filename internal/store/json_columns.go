package store

import (
	"encoding/json"
	"time"

	"github.com/remind-mem/remind/internal/model"
)

// episodeData is the JSON-blob shape for an episode's "data" column. It
// holds only the fields without a normalized column of their own (episode
// type, entity ids, confidence, metadata); id, content, title, the three
// flags and timestamp live in their own columns and are not repeated here.
type episodeData struct {
	EpisodeType model.EpisodeType `json:"episode_type"`
	EntityIDs   []string          `json:"entity_ids"`
	Confidence  float64           `json:"confidence"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func episodeToRow(ep *model.Episode) (data []byte, err error) {
	d := episodeData{
		EpisodeType: ep.EpisodeType,
		EntityIDs:   ep.EntityIDs,
		Confidence:  ep.Confidence,
		Metadata:    ep.Metadata,
	}
	return json.Marshal(d)
}

func rowToEpisode(id, content, title string, consolidated, entitiesExtracted, relationsExtracted bool, ts time.Time, _ string, dataBlob []byte) (*model.Episode, error) {
	var d episodeData
	if len(dataBlob) > 0 {
		if err := json.Unmarshal(dataBlob, &d); err != nil {
			return nil, err
		}
	}
	et := d.EpisodeType
	if !model.ValidEpisodeType(et) {
		et = model.EpisodeObservation
	}
	return &model.Episode{
		ID:                 id,
		Timestamp:          ts,
		Content:            content,
		Title:              title,
		EpisodeType:        et,
		EntityIDs:          d.EntityIDs,
		Consolidated:       consolidated,
		EntitiesExtracted:  entitiesExtracted,
		RelationsExtracted: relationsExtracted,
		Confidence:         d.Confidence,
		Metadata:           d.Metadata,
	}, nil
}

// conceptData is the JSON-blob shape for a concept's "data" column. The
// embedding travels in its own BLOB column, not here, to avoid storing it
// twice.
type conceptData struct {
	Relations      []model.ConceptRelation `json:"relations"`
	SourceEpisodes []string                `json:"source_episodes"`
	Conditions     string                  `json:"conditions,omitempty"`
	Exceptions     []string                `json:"exceptions,omitempty"`
	Tags           []string                `json:"tags,omitempty"`
	Confidence     float64                 `json:"confidence"`
	InstanceCount  int                     `json:"instance_count"`
	CreatedAt      time.Time               `json:"created_at"`
}

func conceptToRow(c *model.Concept) ([]byte, error) {
	d := conceptData{
		Relations:      c.Relations,
		SourceEpisodes: c.SourceEpisodes,
		Conditions:     c.Conditions,
		Exceptions:     c.Exceptions,
		Tags:           c.Tags,
		Confidence:     c.Confidence,
		InstanceCount:  c.InstanceCount,
		CreatedAt:      c.CreatedAt,
	}
	return json.Marshal(d)
}

func rowToConcept(id, title, summary string, updatedAt time.Time, dataBlob, embeddingBlob []byte) (*model.Concept, error) {
	var d conceptData
	if len(dataBlob) > 0 {
		if err := json.Unmarshal(dataBlob, &d); err != nil {
			return nil, err
		}
	}
	if d.InstanceCount == 0 {
		d.InstanceCount = 1
	}
	return &model.Concept{
		ID:             id,
		Title:          title,
		Summary:        summary,
		Confidence:     d.Confidence,
		InstanceCount:  d.InstanceCount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      updatedAt,
		Relations:      d.Relations,
		SourceEpisodes: d.SourceEpisodes,
		Conditions:     d.Conditions,
		Exceptions:     d.Exceptions,
		Embedding:      decodeEmbedding(embeddingBlob),
		Tags:           d.Tags,
	}, nil
}

// entityData is the JSON-blob shape for an entity's optional "data" column.
type entityData struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

func entityToRow(e *model.Entity) ([]byte, error) {
	if len(e.Metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(entityData{Metadata: e.Metadata})
}

func rowToEntity(id, typ, displayName string, createdAt time.Time, dataBlob []byte) (*model.Entity, error) {
	e := &model.Entity{
		ID:          id,
		Type:        model.EntityType(typ),
		DisplayName: displayName,
		CreatedAt:   createdAt,
	}
	if len(dataBlob) > 0 {
		var d entityData
		if err := json.Unmarshal(dataBlob, &d); err != nil {
			return nil, err
		}
		e.Metadata = d.Metadata
	}
	return e, nil
}
