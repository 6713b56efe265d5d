// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrUnavailable means no vector could be produced. Callers treat it as
// "no semantic evidence", never as a fatal error.
var ErrUnavailable = errors.New("embedding unavailable")

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)

	// EmbedCode embeds code together with its file path and optional
	// intent, so similar code in similar places lands close together.
	EmbedCode(ctx context.Context, code, filePath, codeContext string) (Vector, error)

	Dims() int
}

// CodeText builds the text EmbedCode feeds to the provider.
func CodeText(code, filePath, codeContext string) string {
	var b strings.Builder
	if filePath != "" {
		b.WriteString("File: ")
		b.WriteString(filePath)
		b.WriteString("\n")
	}
	if codeContext != "" {
		b.WriteString("Context: ")
		b.WriteString(codeContext)
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(code)
	return b.String()
}

// Embed calls e.Embed, treating a nil embedder as unavailable.
func Embed(ctx context.Context, e Embedder, text string) (Vector, error) {
	if e == nil {
		return nil, ErrUnavailable
	}
	return e.Embed(ctx, text)
}

// EmbedCode calls e.EmbedCode, treating a nil embedder as unavailable.
func EmbedCode(ctx context.Context, e Embedder, code, filePath, codeContext string) (Vector, error) {
	if e == nil {
		return nil, ErrUnavailable
	}
	return e.EmbedCode(ctx, code, filePath, codeContext)
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func unavailable(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, err)
}

// --- Factory ---

// Config selects and tunes a provider.
type Config struct {
	Provider  string // "ollama" | "openai" | "" (disabled)
	Model     string
	URL       string
	APIKey    string
	Dims      int
	CacheSize int
	Timeout   time.Duration
}

// New creates an embedder from cfg. It returns nil when embeddings are
// disabled, which every caller treats as ErrUnavailable.
func New(cfg Config) (Embedder, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var e Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", "none", "disabled":
		return nil, nil
	case "ollama":
		e = NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Timeout)
	case "openai":
		e = NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dims, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want ollama or openai)", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}
