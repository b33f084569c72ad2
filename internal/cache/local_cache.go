package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"puntoventa/backend/internal/domain"
)

// LocalProductCache keeps entries in process memory. It suits single-instance
// deployments without Redis.
type LocalProductCache struct {
	mu          sync.RWMutex
	entries     map[int64]localEntry
	generations map[int64]int64
}

type localEntry struct {
	detail    domain.ProductDetail
	expiresAt time.Time
}

func NewLocalProductCache() *LocalProductCache {
	return &LocalProductCache{
		entries:     make(map[int64]localEntry),
		generations: make(map[int64]int64),
	}
}

func (c *LocalProductCache) Get(_ context.Context, id int64) (*domain.ProductDetail, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	detail := entry.detail
	detail.Children = slices.Clone(entry.detail.Children)
	return &detail, true, nil
}

func (c *LocalProductCache) Generation(_ context.Context, id int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[id], nil
}

func (c *LocalProductCache) Set(_ context.Context, detail *domain.ProductDetail, gen int64, ttl time.Duration) error {
	if detail == nil {
		return nil
	}
	stored := *detail
	stored.Children = slices.Clone(detail.Children)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[detail.Product.ID] != gen {
		return nil
	}
	c.entries[detail.Product.ID] = localEntry{detail: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *LocalProductCache) Invalidate(_ context.Context, ids ...int64) error {
	c.mu.Lock()
	for _, id := range ids {
		c.generations[id]++
		delete(c.entries, id)
	}
	c.mu.Unlock()
	return nil
}
