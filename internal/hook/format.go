package hook

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rcliao/afterimage/internal/model"
)

var rule = strings.Repeat("=", 60)

// FormatAdvisory renders similar-code results for the agent. Results sharing
// the same last three path components are shown once. It returns "" when no
// excerpt would be shown.
func FormatAdvisory(backend string, results []model.SearchResult, maxExcerpts, excerptChars int) string {
	var excerpts strings.Builder
	seen := make(map[string]bool)
	for _, r := range results {
		if len(seen) >= maxExcerpts {
			break
		}
		short := shortPath(r.FilePath)
		if seen[short] {
			continue
		}
		seen[short] = true

		code, truncated := truncate(r.NewCode, excerptChars)
		fmt.Fprintf(&excerpts, "**From:** `%s`\n", short)
		excerpts.WriteString("```\n")
		excerpts.WriteString(code + "\n")
		if truncated {
			excerpts.WriteString("... (truncated)\n")
		}
		excerpts.WriteString("```\n\n")
	}
	if len(seen) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n" + rule + "\n")
	fmt.Fprintf(&b, "AFTERIMAGE [%s]: You've written similar code before!\n", strings.ToUpper(backend))
	b.WriteString(rule + "\n\n")
	b.WriteString("Review these patterns before proceeding:\n\n")
	b.WriteString(excerpts.String())
	b.WriteString("Consider these patterns. Retry your write now.\n")
	b.WriteString(rule + "\n")
	return b.String()
}

func shortPath(p string) string {
	var parts []string
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, "/")
}

func truncate(s string, n int) (string, bool) {
	if n <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
