package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestCodeText(t *testing.T) {
	assert.Equal(t, "File: a.py\nContext: fix\n\ndef f(): pass", CodeText("def f(): pass", "a.py", "fix"))
	assert.Equal(t, "File: a.py\n\nx", CodeText("x", "a.py", ""))
	assert.Equal(t, "x", CodeText("x", "", ""))
}

func TestNew_Disabled(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = Embed(context.Background(), e, "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = EmbedCode(context.Background(), e, "x", "a.go", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "word2vec"})
	assert.Error(t, err)
}

func TestNew_Cached(t *testing.T) {
	e, err := New(Config{Provider: "ollama", URL: "http://127.0.0.1:1", CacheSize: 8})
	require.NoError(t, err)
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok, "expected cached embedder, got %T", e)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm", 5*time.Second)
	assert.Equal(t, 384, e.Dims())

	v, err := e.EmbedCode(context.Background(), "code", "a.py", "")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.1, 0.2}, v)
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "", 5*time.Second)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	e := NewOllamaEmbedder("http://127.0.0.1:1", "", time.Second)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type countingEmbedder struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("boom")
	}
	return Vector{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedCode(ctx context.Context, code, filePath, codeContext string) (Vector, error) {
	return c.Embed(ctx, CodeText(code, filePath, codeContext))
}

func (c *countingEmbedder) Dims() int { return 1 }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())

	c.Embed(ctx, "a")
	c.Embed(ctx, "b")
	assert.Equal(t, 2, c.Len())

	// "hello" was evicted.
	c.Embed(ctx, "hello")
	assert.Equal(t, int32(4), inner.calls.Load())
}

func TestCachedEmbedder_FailuresNotCached(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	c, err := NewCachedEmbedder(inner, 4)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
	_, err = c.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}
