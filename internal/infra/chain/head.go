package chain

import (
	"context"
	"sync"
	"time"
)

// HeadReader reads the chain head.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// HeadCache caches LatestBlock for ttl so the block watcher and the health
// check share one head query per interval.
type HeadCache struct {
	reader HeadReader
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

func NewHeadCache(reader HeadReader, ttl time.Duration) *HeadCache {
	return &HeadCache{
		reader: reader,
		ttl:    ttl,
		now:    time.Now,
	}
}

// LatestBlock returns the cached head if within ttl, otherwise fetches fresh.
func (c *HeadCache) LatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if c.cached > 0 && c.now().Sub(c.cachedAt) < c.ttl {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.reader.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	// never move backwards on a lagging load-balanced node
	if head > c.cached {
		c.cached = head
	}
	c.cachedAt = c.now()
	head = c.cached
	c.mu.Unlock()

	return head, nil
}

// Invalidate forces the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
