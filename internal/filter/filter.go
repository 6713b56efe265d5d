// Package filter decides whether a written file is source code worth
// remembering.
package filter

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DefaultCodeExtensions are extensions always treated as code.
var DefaultCodeExtensions = []string{
	".py", ".pyw",
	".js", ".mjs", ".cjs",
	".ts", ".tsx", ".jsx",
	".rs",
	".go",
	".java",
	".c", ".cpp", ".cc", ".cxx", ".h", ".hpp", ".hxx",
	".cs",
	".rb", ".rake",
	".php",
	".swift",
	".kt", ".kts",
	".scala",
	".clj", ".cljs",
	".ex", ".exs",
	".erl", ".hrl",
	".hs", ".lhs",
	".ml", ".mli",
	".fs", ".fsx", ".fsi",
	".pl", ".pm",
	".lua",
	".r",
	".jl",
	".nim",
	".zig",
	".v",
	".d",
	".dart",
	".vue",
	".svelte",
	".elm",
	".sol",
	".sql",
	".sh", ".bash", ".zsh",
	".ps1", ".psm1",
}

// DefaultSkipExtensions are extensions never treated as code.
var DefaultSkipExtensions = []string{
	".md", ".markdown", ".rst", ".txt",
	".json", ".yaml", ".yml", ".toml",
	".xml", ".html", ".htm",
	".css", ".scss", ".sass", ".less",
	".log", ".out",
	".env", ".env.local", ".env.example",
	".lock", ".sum",
	".min.js", ".min.css",
	".map",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
	".woff", ".woff2", ".ttf", ".eot",
	".pdf", ".doc", ".docx",
	".csv", ".tsv",
}

// DefaultSkipPaths are path substrings that exclude a file.
var DefaultSkipPaths = []string{
	"artifacts/",
	"docs/",
	"documentation/",
	"research/",
	"test_data/",
	"__pycache__/",
	".git/",
	".venv/",
	"venv/",
	"node_modules/",
	".mypy_cache/",
	".pytest_cache/",
	"dist/",
	"build/",
	".egg-info/",
	"migrations/",
}

// Skipped extensions that content heuristics may still promote to code.
var softSkip = map[string]bool{".txt": true}

// Compound test/story suffixes classify by their last extension.
var compoundExts = map[string]bool{
	".test.js": true, ".test.ts": true, ".spec.js": true, ".spec.ts": true,
	".test.py": true, ".spec.py": true, ".stories.js": true, ".stories.tsx": true,
}

// CodeFilter is a pure predicate over (path, content).
type CodeFilter struct {
	codeExts  map[string]bool
	skipExts  map[string]bool
	skipPaths []string
}

// New builds a filter. Nil lists select the defaults.
func New(codeExts, skipExts, skipPaths []string) *CodeFilter {
	if codeExts == nil {
		codeExts = DefaultCodeExtensions
	}
	if skipExts == nil {
		skipExts = DefaultSkipExtensions
	}
	if skipPaths == nil {
		skipPaths = DefaultSkipPaths
	}
	f := &CodeFilter{
		codeExts:  make(map[string]bool, len(codeExts)),
		skipExts:  make(map[string]bool, len(skipExts)),
		skipPaths: append([]string(nil), skipPaths...),
	}
	for _, e := range codeExts {
		f.codeExts[normExt(e)] = true
	}
	for _, e := range skipExts {
		f.skipExts[normExt(e)] = true
	}
	return f
}

// IsCode reports whether filePath should be treated as code. Content is
// consulted only for unknown or soft-skipped extensions; empty content never
// qualifies.
func (f *CodeFilter) IsCode(filePath, content string) bool {
	for _, p := range f.skipPaths {
		if p != "" && strings.Contains(filePath, p) {
			return false
		}
	}

	name := filepath.Base(filePath)
	if strings.Contains(name, ".min.") {
		return false
	}

	ext := extension(name)
	if f.skipExts[ext] {
		if softSkip[ext] {
			return LooksLikeCode(content)
		}
		return false
	}
	if f.codeExts[ext] {
		return true
	}
	return LooksLikeCode(content)
}

// Config returns the active lists, sorted.
func (f *CodeFilter) Config() (codeExts, skipExts, skipPaths []string) {
	return sortedKeys(f.codeExts), sortedKeys(f.skipExts), append([]string(nil), f.skipPaths...)
}

func extension(name string) string {
	if !strings.Contains(name, ".") {
		return ""
	}
	// Dotfiles like .gitignore are their own extension.
	if strings.HasPrefix(name, ".") && strings.Count(name, ".") == 1 {
		return name
	}
	parts := strings.Split(name, ".")
	if len(parts) >= 3 && compoundExts["."+parts[len(parts)-2]+"."+parts[len(parts)-1]] {
		return "." + parts[len(parts)-1]
	}
	return strings.ToLower(filepath.Ext(name))
}

func normExt(e string) string {
	if !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return strings.ToLower(e)
}

var (
	reDef       = regexp.MustCompile(`\bdef\s+\w+\s*\(`)
	reFunction  = regexp.MustCompile(`\bfunction\s+\w*\s*\(`)
	reFn        = regexp.MustCompile(`\bfn\s+\w+\s*\(`)
	reFunc      = regexp.MustCompile(`\bfunc\s+\w+\s*\(`)
	reClass     = regexp.MustCompile(`\bclass\s+\w+`)
	reImport    = regexp.MustCompile(`\b(import|from|require|use|include)\b`)
	reControl   = regexp.MustCompile(`\b(if|else|for|while|return|try|catch)\b`)
	reDecl      = regexp.MustCompile(`\b(const|let|var|val)\s+\w+\s*=`)
	reSemicolon = regexp.MustCompile(`(?m);\s*$`)
)

// LooksLikeCode scores content against common code indicators. Definitions
// count double; two points are enough.
func LooksLikeCode(content string) bool {
	if len(strings.TrimSpace(content)) < 20 {
		return false
	}

	score := 0
	for _, re := range []*regexp.Regexp{reDef, reFunction, reFn, reFunc, reClass} {
		if re.MatchString(content) {
			score += 2
		}
	}
	for _, re := range []*regexp.Regexp{reImport, reControl, reDecl, reSemicolon} {
		if re.MatchString(content) {
			score++
		}
	}

	brackets := strings.Count(content, "{") + strings.Count(content, "}") +
		strings.Count(content, "[") + strings.Count(content, "]")
	if float64(brackets)/float64(len(content)) > 0.02 {
		score++
	}
	if strings.Contains(content, "=>") || strings.Contains(content, "lambda") {
		score++
	}
	return score >= 2
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
