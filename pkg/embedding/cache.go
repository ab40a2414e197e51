package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFillTimeout bounds a shared fill when NewCache is given no timeout.
const DefaultFillTimeout = time.Minute

// Cache memoises control embeddings per catalog. Entries are immutable once
// stored; concurrent misses for the same key share one provider call. The
// shared call is detached from every caller's context and bounded by the
// fill timeout, so one caller giving up never fails the others.
type Cache struct {
	provider    Provider
	fillTimeout time.Duration

	mu      sync.RWMutex
	entries map[string][][]float32
	group   singleflight.Group
}

func NewCache(p Provider, fillTimeout time.Duration) *Cache {
	if fillTimeout <= 0 {
		fillTimeout = DefaultFillTimeout
	}
	return &Cache{
		provider:    p,
		fillTimeout: fillTimeout,
		entries:     make(map[string][][]float32),
	}
}

// Key builds the cache key for a framework catalog embedded by this cache's
// provider.
func (c *Cache) Key(frameworkID, catalogVersion string) string {
	return fmt.Sprintf("%s@%s#%s", frameworkID, catalogVersion, c.provider.ModelVersion())
}

// Get returns the vectors for key, embedding texts on a miss. Failed fills
// are not cached. Get stops waiting when ctx is done; the fill carries on
// for the callers still waiting on it.
func (c *Cache) Get(ctx context.Context, key string, texts []string) ([][]float32, error) {
	c.mu.RLock()
	vecs, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return vecs, nil
	}

	fillCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(fillCtx, c.fillTimeout)
		defer cancel()

		c.mu.RLock()
		vecs, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return vecs, nil
		}

		vecs, err := c.provider.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
		}

		c.mu.Lock()
		c.entries[key] = vecs
		c.mu.Unlock()
		return vecs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([][]float32), nil
	}
}

// Len reports the number of cached catalogs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Provider returns the underlying provider.
func (c *Cache) Provider() Provider {
	return c.provider
}
