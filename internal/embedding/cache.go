package embedding

import (
	"context"
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes a provider's vectors by SHA-256 of the input text.
// Failures are not cached.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[[sha256.Size]byte, Vector]
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	c, err := lru.New[[sha256.Size]byte, Vector](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	key := sha256.Sum256([]byte(text))
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *CachedEmbedder) EmbedCode(ctx context.Context, code, filePath, codeContext string) (Vector, error) {
	return c.Embed(ctx, CodeText(code, filePath, codeContext))
}

func (c *CachedEmbedder) Dims() int { return c.inner.Dims() }

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
