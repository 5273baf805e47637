package extractor

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceOpenRe  = regexp.MustCompile("(?s)^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("(?s)\\s*```$")
	objectRe     = regexp.MustCompile(`(?s)\{.*\}`)
	typeFieldRe  = regexp.MustCompile(`"type"\s*:\s*"(\w+)"`)
	entitiesRe   = regexp.MustCompile(`(?s)"entities"\s*:\s*\[(.*?)\]`)
	entityObjRe  = regexp.MustCompile(`\{[^}]+\}`)
)

// tryFixJSON applies tolerant recovery to a possibly-malformed LLM response,
// in order: direct parse, markdown-fence stripping, first-{...}-region
// extraction, delimiter-counting closure of unmatched quotes/brackets/
// braces, and finally a regex last resort that recovers only "type" and an
// "entities" array. Returns nil if no strategy yields a parseable object.
//
// This recovery path is used ONLY by the Extractor (spec §4.3); the
// Consolidator never applies it (spec §4.2, §7).
func tryFixJSON(text string) map[string]any {
	if m, ok := parseObject(text); ok {
		return m
	}

	stripped := fenceCloseRe.ReplaceAllString(fenceOpenRe.ReplaceAllString(strings.TrimSpace(text), ""), "")
	if m, ok := parseObject(stripped); ok {
		return m
	}

	if match := objectRe.FindString(stripped); match != "" {
		if m, ok := parseObject(match); ok {
			return m
		}
	}

	fixed := strings.TrimRight(stripped, " \t\r\n")
	openBraces := strings.Count(fixed, "{") - strings.Count(fixed, "}")
	openBrackets := strings.Count(fixed, "[") - strings.Count(fixed, "]")
	if strings.Count(fixed, `"`)%2 == 1 {
		fixed += `"`
	}
	fixed += strings.Repeat("]", max0(openBrackets))
	fixed += strings.Repeat("}", max0(openBraces))
	if m, ok := parseObject(fixed); ok {
		return m
	}

	typeMatch := typeFieldRe.FindStringSubmatch(text)
	if typeMatch == nil {
		return nil
	}
	result := map[string]any{"type": typeMatch[1], "entities": []any{}}
	if entMatch := entitiesRe.FindStringSubmatch(text); entMatch != nil {
		var entities []any
		for _, es := range entityObjRe.FindAllString(entMatch[1], -1) {
			if m, ok := parseObject(es); ok {
				entities = append(entities, m)
			}
		}
		result["entities"] = entities
	}
	return result
}

func parseObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
