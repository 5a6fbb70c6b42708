package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of distinct texts kept in memory by
// CachedEmbedder when the caller does not specify one.
const DefaultCacheSize = 4096

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text, so
// repeated find/similar queries against the same text skip the external
// embedding call entirely.
type CachedEmbedder struct {
	base  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps base with an LRU cache of the given size (0 uses
// DefaultCacheSize).
func NewCachedEmbedder(base Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{base: base, cache: cache}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.cache.Get(k); ok {
		return v, nil
	}
	v, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, v)
	return v, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(c.key(t)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	embedded, err := c.base.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range embedded {
		i := missIdx[j]
		out[i] = v
		c.cache.Add(c.key(missTexts[j]), v)
	}
	return out, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.base.Dimensions() }

// Len reports the number of cached embeddings.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
