// Package memory assembles the store, extractor, consolidator, and
// retriever into the single public API applications embed against:
// remember fast and synchronously, consolidate (the only place LLM work
// happens outside per-call recall embedding), and recall (spec §2, §4.5).
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/remind-mem/remind/internal/config"
	"github.com/remind-mem/remind/internal/consolidator"
	"github.com/remind-mem/remind/internal/extractor"
	"github.com/remind-mem/remind/internal/llm"
	"github.com/remind-mem/remind/internal/model"
	"github.com/remind-mem/remind/internal/ratelimit"
	"github.com/remind-mem/remind/internal/retriever"
	"github.com/remind-mem/remind/internal/store"
)

// Memory is the unified façade over the memory engine.
type Memory struct {
	LLM          llm.Completer
	Embedder     llm.Embedder
	Store        *store.Store
	Consolidator *consolidator.Consolidator
	Retriever    *retriever.Retriever
	Extractor    *extractor.Extractor
	Config       *config.Config
	Logger       *log.Logger
	DBPath       string

	lastConsolidation *time.Time
	sessionBufferSize int
}

// Open resolves dbPath (a bare name or absolute path), opens the
// underlying store, and wires a Memory façade around it using cfg's
// thresholds (DefaultConfig() if cfg is nil).
func Open(dbPath string, completer llm.Completer, embedder llm.Embedder, cfg *config.Config, logger *log.Logger) (*Memory, error) {
	resolved, err := config.ResolveDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	var m *Memory
	WithExclusiveAccess(resolved, func() {
		var st *store.Store
		st, err = store.Open(resolved)
		if err != nil {
			err = fmt.Errorf("open store: %w", err)
			return
		}
		m = New(st, completer, embedder, cfg, logger)
		m.DBPath = resolved
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// New wires a Memory façade around an already-open Store.
func New(st *store.Store, completer llm.Completer, embedder llm.Embedder, cfg *config.Config, logger *log.Logger) *Memory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = log.Default()
	}

	completer = ratelimit.NewCompleter(completer, cfg.ProviderRateLimit, cfg.ProviderBurst)
	embedder = ratelimit.NewEmbedder(embedder, cfg.ProviderRateLimit, cfg.ProviderBurst)

	x := extractor.New(completer, st, logger)
	c := consolidator.New(completer, embedder, st, x, cfg.MinConfidence, cfg.BatchSize, logger)
	r := retriever.New(embedder, st, cfg.DefaultRecallK*2, cfg.SpreadHops, cfg.SpreadDecay, cfg.ActivationThreshold, cfg.RelationWeights)

	return &Memory{
		LLM: completer, Embedder: embedder, Store: st,
		Consolidator: c, Retriever: r, Extractor: x,
		Config: cfg, Logger: logger,
	}
}

// Close releases the underlying store.
func (m *Memory) Close() error { return m.Store.Close() }

// Scoped opens a Memory against dbPath and runs fn against it, consolidating
// any pending episodes and closing the store on the way out regardless of
// how fn returns — the scoped-acquisition form for callers that don't want
// to manage the façade's lifetime themselves.
func Scoped(ctx context.Context, dbPath string, completer llm.Completer, embedder llm.Embedder, cfg *config.Config, logger *log.Logger, fn func(*Memory) error) error {
	m, err := Open(dbPath, completer, embedder, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := m.EndSession(ctx); err != nil {
			m.Logger.Printf("scoped session: end-of-session consolidation failed: %v", err)
		}
		m.Close()
	}()
	return fn(m)
}

// Remember logs an episode without making any LLM call. Entity extraction
// and type classification are deferred to Consolidate, unless episodeType
// or entities are supplied explicitly (which marks them pre-extracted).
func (m *Memory) Remember(ctx context.Context, content string, metadata map[string]string, episodeType model.EpisodeType, entities []string, confidence float64) (string, error) {
	ep := &model.Episode{
		ID:         uuid.New().String()[:8],
		Timestamp:  time.Now(),
		Content:    content,
		Metadata:   metadata,
		Confidence: model.ClampConfidence(confidence),
	}

	if episodeType != "" {
		ep.EpisodeType = episodeType
		ep.EntitiesExtracted = true
	}

	// Canonicalize caller-supplied ids (Invariant E1) and make sure every
	// entity exists before the episode's mentions reference it — AddEpisode
	// inserts mentions in the same call, and mentions.entity_id is a foreign
	// key into entities.
	if len(entities) > 0 {
		canonical := make([]string, len(entities))
		for i, raw := range entities {
			etype, name, ok := model.ParseEntityID(raw)
			if !ok || !model.ValidEntityType(etype) {
				etype, name = model.EntityOther, raw
			}
			id := model.EntityID(etype, name)
			canonical[i] = id

			existing, err := m.Store.GetEntity(ctx, id)
			if err != nil {
				return "", err
			}
			if existing == nil {
				if err := m.Store.AddEntity(ctx, &model.Entity{ID: id, Type: etype, DisplayName: model.Normalize(name), CreatedAt: time.Now()}); err != nil {
					return "", err
				}
			}
		}
		ep.EntityIDs = canonical
		ep.EntitiesExtracted = true
	}

	if err := m.Store.AddEpisode(ctx, ep); err != nil {
		return "", err
	}
	m.sessionBufferSize++

	return ep.ID, nil
}

// Recall retrieves relevant concepts for query via spreading activation and
// formats them for LLM injection.
func (m *Memory) Recall(ctx context.Context, query string, k int, context_ string) (string, error) {
	if k <= 0 {
		k = m.Config.DefaultRecallK
	}
	activated, err := m.Retriever.Retrieve(ctx, query, k, context_, false)
	if err != nil {
		return "", err
	}
	return m.Retriever.FormatForLLM(ctx, activated, true, 5, true)
}

// RecallRaw is Recall without formatting, for callers that want structured results.
func (m *Memory) RecallRaw(ctx context.Context, query string, k int, context_ string) ([]model.ActivatedConcept, error) {
	if k <= 0 {
		k = m.Config.DefaultRecallK
	}
	return m.Retriever.Retrieve(ctx, query, k, context_, false)
}

// RecallByEntity retrieves and formats memory about a specific entity
// instead of running semantic search.
func (m *Memory) RecallByEntity(ctx context.Context, entityID string, k int) (string, error) {
	if k <= 0 {
		k = m.Config.DefaultRecallK
	}
	episodes, err := m.Retriever.RetrieveByEntity(ctx, entityID, k*4)
	if err != nil {
		return "", err
	}
	return m.Retriever.FormatEntityContext(ctx, entityID, episodes, true)
}

// Consolidate runs the extraction + generalization cycle. This is the only
// operation that makes LLM calls outside of recall's embedding step.
func (m *Memory) Consolidate(ctx context.Context, force bool) (*model.ConsolidationResult, error) {
	var result *model.ConsolidationResult
	var err error
	WithExclusiveAccess(m.DBPath, func() {
		result, err = m.Consolidator.Consolidate(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	if result.EpisodesProcessed > 0 {
		now := time.Now()
		m.lastConsolidation = &now
		m.sessionBufferSize = 0
	}
	return result, nil
}

// EndSession consolidates any pending episodes unconditionally, regardless
// of the configured threshold. Intended as a hook at natural session
// boundaries (end of conversation, task completion, shutdown).
func (m *Memory) EndSession(ctx context.Context) (*model.ConsolidationResult, error) {
	pending, err := m.PendingEpisodesCount(ctx)
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		return &model.ConsolidationResult{}, nil
	}
	return m.Consolidate(ctx, true)
}

// PendingEpisodesCount reports how many episodes await consolidation.
func (m *Memory) PendingEpisodesCount(ctx context.Context) (int, error) {
	return m.Store.CountUnconsolidatedEpisodes(ctx)
}

// ShouldConsolidate reports whether the pending episode count has reached
// the configured auto-consolidation threshold.
func (m *Memory) ShouldConsolidate(ctx context.Context) (bool, error) {
	pending, err := m.PendingEpisodesCount(ctx)
	if err != nil {
		return false, err
	}
	return pending >= m.Config.ConsolidationThreshold, nil
}

// GetPendingEpisodes returns up to limit episodes awaiting consolidation.
func (m *Memory) GetPendingEpisodes(ctx context.Context, limit int) ([]*model.Episode, error) {
	return m.Store.GetUnconsolidatedEpisodes(ctx, limit)
}

// --- Direct accessors ---

func (m *Memory) GetConcept(ctx context.Context, id string) (*model.Concept, error) { return m.Store.GetConcept(ctx, id) }
func (m *Memory) GetAllConcepts(ctx context.Context) ([]*model.Concept, error)       { return m.Store.GetAllConcepts(ctx) }
func (m *Memory) GetRecentEpisodes(ctx context.Context, limit int) ([]*model.Episode, error) {
	return m.Store.GetRecentEpisodes(ctx, limit)
}
func (m *Memory) GetEpisodesByType(ctx context.Context, t model.EpisodeType, limit int) ([]*model.Episode, error) {
	return m.Store.GetEpisodesByType(ctx, t, limit)
}
func (m *Memory) GetEntity(ctx context.Context, id string) (*model.Entity, error) { return m.Store.GetEntity(ctx, id) }
func (m *Memory) GetAllEntities(ctx context.Context) ([]*model.Entity, error)     { return m.Store.GetAllEntities(ctx) }
func (m *Memory) GetEpisodesMentioning(ctx context.Context, entityID string, limit int) ([]*model.Episode, error) {
	return m.Store.GetEpisodesMentioning(ctx, entityID, limit)
}
func (m *Memory) GetEntityMentionCounts(ctx context.Context) ([]store.EntityMentionCount, error) {
	return m.Store.GetEntityMentionCounts(ctx)
}

// Stats is GetStats's return value, enriched with session/config fields not
// tracked by the store itself.
type Stats struct {
	model.Stats
	SessionEpisodeBuffer   int        `json:"session_episode_buffer"`
	ConsolidationThreshold int        `json:"consolidation_threshold"`
	AutoConsolidate        bool       `json:"auto_consolidate"`
	ShouldConsolidate      bool       `json:"should_consolidate"`
	LastConsolidation      *time.Time `json:"last_consolidation,omitempty"`
	LLMProvider            string     `json:"llm_provider"`
	EmbeddingProvider      string     `json:"embedding_provider"`
}

// GetStats returns memory statistics including consolidation state.
func (m *Memory) GetStats(ctx context.Context) (*Stats, error) {
	base, err := m.Store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	should, err := m.ShouldConsolidate(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Stats:                  *base,
		SessionEpisodeBuffer:   m.sessionBufferSize,
		ConsolidationThreshold: m.Config.ConsolidationThreshold,
		AutoConsolidate:        m.Config.AutoConsolidate,
		ShouldConsolidate:      should,
		LastConsolidation:      m.lastConsolidation,
		LLMProvider:            m.LLM.Name(),
		EmbeddingProvider:      m.Embedder.Name(),
	}, nil
}

// --- Import / Export ---

// ExportMemory exports all memory data as a JSON document, optionally
// writing it to path.
func (m *Memory) ExportMemory(ctx context.Context, path string) ([]byte, error) {
	data, err := m.Store.ExportData(ctx)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write export file: %w", err)
		}
		m.Logger.Printf("exported memory to %s", path)
	}
	return data, nil
}

// ImportMemory imports a JSON export, either from a file path or raw bytes.
func (m *Memory) ImportMemory(ctx context.Context, pathOrData string, isPath bool) error {
	data := []byte(pathOrData)
	if isPath {
		b, err := os.ReadFile(pathOrData)
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		data = b
	}
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("import data is not valid json: %w", err)
	}
	return m.Store.ImportData(ctx, data)
}
