package embedding

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// EmbeddingCache caches embeddings keyed by text. Admission and eviction are handled by
// ristretto's TinyLFU policy; Set is asynchronous, call Wait to flush pending writes.
type EmbeddingCache struct {
	cache *ristretto.Cache
}

// NewEmbeddingCache creates a cache holding roughly capacity embeddings.
func NewEmbeddingCache(capacity int) (*EmbeddingCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
		// MaxCost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &EmbeddingCache{cache: c}, nil
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	emb, ok := v.([]float32)
	return emb, ok
}

// Set stores the embedding for key with unit cost.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.cache.Set(key, value, 1)
}

// Wait blocks until pending Sets are applied.
func (c *EmbeddingCache) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *EmbeddingCache) Close() {
	c.cache.Close()
}
