package search

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
)

// CachedEmbedder memoizes successful query embeddings. Keys are the trimmed,
// lowercased query; the wrapped embedder sees the trimmed query with its
// case intact. Errors are never cached.
type CachedEmbedder struct {
	next Embedder

	mu    sync.Mutex
	cache *lru.Cache

	hits, misses uint64
}

// NewCachedEmbedder wraps next with an LRU of the given capacity. A
// capacity of zero or less returns next unchanged.
func NewCachedEmbedder(next Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return next
	}
	return &CachedEmbedder{next: next, cache: lru.New(capacity)}
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Embed returns the cached vector for query or delegates to the wrapped
// embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, query string) ([]float32, error) {
	key := cacheKey(query)

	c.mu.Lock()
	if v, ok := c.cache.Get(key); ok {
		c.hits++
		c.mu.Unlock()
		return v.([]float32), nil
	}
	c.misses++
	c.mu.Unlock()

	vec, err := c.next.Embed(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache.Add(key, vec)
	c.mu.Unlock()
	return vec, nil
}

// Stats returns the hit and miss counts and the current size.
func (c *CachedEmbedder) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.cache.Len()
}
