package churn

import (
	"regexp"
	"sort"
)

// Definitions recognized per language: Python def/class, Go func (methods
// included), JS function, Rust fn.
var symbolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+([\p{L}_][\p{L}\p{N}_]*)\s*\(`),
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?class\s+([\p{L}_][\p{L}\p{N}_]*)`),
	regexp.MustCompile(`(?m)^\s*func\s+(?:\([^)]*\)\s*)?([\p{L}_][\p{L}\p{N}_]*)\s*[\[(]`),
	regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:async\s+)?function\s*\*?\s*([\p{L}_$][\p{L}\p{N}_$]*)\s*\(`),
	regexp.MustCompile(`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+([\p{L}_][\p{L}\p{N}_]*)`),
}

// ExtractSymbols returns the function and class names defined in content, in
// order of first appearance, without duplicates.
func ExtractSymbols(content string) []string {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, re := range symbolPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			hits = append(hits, hit{pos: m[2], name: content[m[2]:m[3]]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool, len(hits))
	var out []string
	for _, h := range hits {
		if seen[h.name] {
			continue
		}
		seen[h.name] = true
		out = append(out, h.name)
	}
	return out
}
