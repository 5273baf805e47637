package consolidator

import (
	"fmt"
	"strings"

	"github.com/remind-mem/remind/internal/model"
	"github.com/remind-mem/remind/internal/store"
)

const systemPrompt = `You are a memory consolidation system. Your role is to:

1. Analyze episodic memories (raw experiences/interactions)
2. Extract generalized concepts and patterns
3. Identify relationships between concepts
4. Update existing knowledge when new information refines it
5. Flag contradictions that need resolution

Be precise and conservative. Only create concepts when there's clear evidence.
Prefer updating existing concepts over creating redundant ones.`

func buildPrompt(summaries []store.ConceptSummary, episodes []*model.Episode) string {
	var b strings.Builder
	b.WriteString("## EXISTING CONCEPTUAL MEMORY\n\n")
	b.WriteString(formatConcepts(summaries))
	b.WriteString("\n\n## NEW EPISODES TO INTEGRATE\n\n")
	b.WriteString(formatEpisodes(episodes))
	b.WriteString(`

---

Analyze these new episodes in the context of existing memory. Perform consolidation.

Respond with this exact JSON structure:

{
  "analysis": "Brief narrative of what you observed across these episodes",
  "updates": [
    {"concept_id": "existing concept ID", "new_title": "or null", "new_summary": "or null",
     "confidence_delta": 0.1, "source_episodes": ["episode_id1"], "add_exceptions": [], "add_tags": []}
  ],
  "new_concepts": [
    {"temp_id": "NEW_0", "title": "short title", "summary": "the generalized understanding",
     "confidence": 0.6, "source_episodes": ["episode_id1"], "conditions": "or null", "exceptions": [], "tags": [],
     "relations": [{"type": "implies|contradicts|specializes|generalizes|causes|correlates|part_of|context_of", "target_id": "existing_id or NEW_1", "strength": 0.7, "context": "optional"}]}
  ],
  "new_relations": [
    {"source_id": "existing_id or NEW_0", "target_id": "existing_id or NEW_1", "type": "implies|contradicts|specializes|generalizes|causes|correlates|part_of|context_of", "strength": 0.7, "context": "optional"}
  ],
  "contradictions": [
    {"concept_id": "id of concept that's contradicted", "evidence": "what contradicts it", "resolution": "or null"}
  ]
}

Use temp_id (NEW_0, NEW_1, ...) for new concepts; reference them as target_id/source_id in relations.
Be conservative: only include entries with clear evidence. Empty arrays are fine.`)
	return b.String()
}

func formatConcepts(summaries []store.ConceptSummary) string {
	if len(summaries) == 0 {
		return "(No existing concepts yet)"
	}
	lines := make([]string, 0, len(summaries))
	for _, c := range summaries {
		line := fmt.Sprintf("[%s] (conf: %.2f, n=%d)", c.ID, c.Confidence, c.InstanceCount)
		if len(c.Tags) > 0 {
			line += " [" + strings.Join(c.Tags, ", ") + "]"
		}
		if c.Title != "" {
			line += "\n  Title: " + c.Title
		}
		line += "\n  " + c.Summary
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n\n")
}

func formatEpisodes(episodes []*model.Episode) string {
	lines := make([]string, 0, len(episodes))
	for _, ep := range episodes {
		confStr := ""
		if ep.Confidence < 1.0 {
			confStr = fmt.Sprintf(", conf=%.1f", ep.Confidence)
		}
		header := fmt.Sprintf("[%s] (%s, type=%s%s)", ep.ID, ep.Timestamp.Format("2006-01-02 15:04"), ep.EpisodeType, confStr)

		if len(ep.EntityIDs) > 0 {
			shown := ep.EntityIDs
			suffix := ""
			if len(shown) > 5 {
				suffix = fmt.Sprintf(" (+%d more)", len(shown)-5)
				shown = shown[:5]
			}
			header += "\n  Entities: " + strings.Join(shown, ", ") + suffix
		}

		if meta := ep.PromptMetadata(); len(meta) > 0 {
			parts := make([]string, 0, len(meta))
			for k, v := range meta {
				parts = append(parts, k+"="+v)
			}
			header += "\n  Meta: " + strings.Join(parts, ", ")
		}

		lines = append(lines, header+"\n"+ep.Content)
	}
	return strings.Join(lines, "\n\n---\n\n")
}
