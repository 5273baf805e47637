package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/remind-mem/remind/internal/model"
)

// FormatForLLM renders activated concepts as the "recall" block injected
// into an LLM prompt: id/title/confidence header, summary, conditions and
// exceptions, a capped number of outgoing relations (resolved against the
// store), and full source-episode content.
func (r *Retriever) FormatForLLM(ctx context.Context, activated []model.ActivatedConcept, includeRelations bool, maxRelations int, includeEpisodes bool) (string, error) {
	if len(activated) == 0 {
		return "(No relevant memories found)", nil
	}

	var b strings.Builder
	b.WriteString("RELEVANT MEMORY:\n")

	for _, ac := range activated {
		c := ac.Concept

		var header string
		if c.Title != "" {
			header = fmt.Sprintf("[%s] %s (confidence: %.2f", c.ID, c.Title, c.Confidence)
		} else {
			header = fmt.Sprintf("[%s] (confidence: %.2f", c.ID, c.Confidence)
		}
		if ac.Source == "spread" {
			header += ", via association"
		}
		header += ")"
		b.WriteString("\n" + header + "\n")

		b.WriteString("  " + c.Summary + "\n")

		if c.Conditions != "" {
			b.WriteString("  → Applies when: " + c.Conditions + "\n")
		}
		if len(c.Exceptions) > 0 {
			b.WriteString("  → Exceptions: " + strings.Join(c.Exceptions, ", ") + "\n")
		}

		if includeRelations && len(c.Relations) > 0 {
			shown := 0
			for _, rel := range c.Relations {
				if shown >= maxRelations {
					break
				}
				target, err := r.Store.GetConcept(ctx, rel.TargetID)
				if err != nil {
					return "", err
				}
				if target != nil {
					b.WriteString(fmt.Sprintf("  → %s: %s\n", rel.Type, target.Summary))
					shown++
				}
			}
		}

		if includeEpisodes && len(c.SourceEpisodes) > 0 {
			b.WriteString("\n  Source episodes:\n")
			for _, epID := range c.SourceEpisodes {
				ep, err := r.Store.GetEpisode(ctx, epID)
				if err != nil {
					return "", err
				}
				if ep != nil {
					b.WriteString("    • " + ep.Content + "\n")
				}
			}
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

// FormatEntityContext renders episodes mentioning entityID as an
// entity-centric context block, grouped by episode type in
// model.EpisodeTypeOrder when includeTypeBreakdown is set, or as a plain
// chronological list otherwise.
func (r *Retriever) FormatEntityContext(ctx context.Context, entityID string, episodes []*model.Episode, includeTypeBreakdown bool) (string, error) {
	if len(episodes) == 0 {
		return fmt.Sprintf("(No memories about %s)", entityID), nil
	}

	entity, err := r.Store.GetEntity(ctx, entityID)
	if err != nil {
		return "", err
	}
	entityName := entityID
	if entity != nil {
		entityName = entity.DisplayName
	}

	var b strings.Builder
	b.WriteString("MEMORY ABOUT: " + entityName + "\n")

	if includeTypeBreakdown {
		byType := make(map[model.EpisodeType][]*model.Episode)
		for _, ep := range episodes {
			byType[ep.EpisodeType] = append(byType[ep.EpisodeType], ep)
		}
		for _, t := range model.EpisodeTypeOrder {
			group, ok := byType[t]
			if !ok {
				continue
			}
			b.WriteString("\n[" + strings.ToUpper(string(t)) + "S]\n")
			for _, ep := range group {
				b.WriteString("  • " + ep.Content + "\n")
			}
		}
	} else {
		for _, ep := range episodes {
			label := string(ep.EpisodeType)
			if len(label) > 3 {
				label = label[:3]
			}
			b.WriteString(fmt.Sprintf("  [%s] %s\n", label, ep.Content))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
