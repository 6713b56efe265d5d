package hook

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rcliao/afterimage/internal/churn"
)

const (
	hashPrefixRunes = 500
	maxTerms        = 8
)

// ContentHash identifies a write attempt by its path and the start of its
// content.
func ContentHash(filePath, content string) string {
	prefix := content
	if utf8.RuneCountInString(prefix) > hashPrefixRunes {
		prefix = string([]rune(prefix)[:hashPrefixRunes])
	}
	sum := md5.Sum([]byte(filePath + ":" + prefix))
	return hex.EncodeToString(sum[:])[:16]
}

var (
	importRe    = regexp.MustCompile(`from\s+([\p{L}\p{N}_]+)|import\s+([\p{L}\p{N}_]+)`)
	decoratorRe = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)
)

// Lexical operators that must not be passed through as search words.
var reservedTerms = map[string]bool{"AND": true, "NOT": true, "NEAR": true}

// ExtractTerms pulls search words from code: imported modules, defined
// function and class names, decorators, and the file stem. Terms are unique,
// longer than two characters, and capped at eight.
func ExtractTerms(content, filePath string) []string {
	terms := submatches(importRe, content)
	terms = append(terms, churn.ExtractSymbols(content)...)
	terms = append(terms, submatches(decoratorRe, content)...)
	base := filepath.Base(filePath)
	terms = append(terms, strings.TrimSuffix(base, filepath.Ext(base)))

	seen := make(map[string]bool, len(terms))
	var out []string
	for _, t := range terms {
		if seen[t] || utf8.RuneCountInString(t) <= 2 || reservedTerms[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTerms {
			break
		}
	}
	return out
}

// submatches returns the first non-empty group of every match.
func submatches(re *regexp.Regexp, content string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
				break
			}
		}
	}
	return out
}
