package keywords

import (
	"context"
	"sync"
	"time"

	"github.com/prospector-io/prospector/models"
)

// DefaultTTL bounds how stale the cached keyword list may be. Staleness
// inside the window is tolerated by design.
const DefaultTTL = 5 * time.Minute

// Lister fetches the active keyword rows from storage.
type Lister interface {
	ListActiveKeywords(ctx context.Context) ([]models.Keyword, error)
}

// Cache is an explicit value+fetch-timestamp+TTL wrapper around the keyword
// list so the staleness window is visible and testable.
type Cache struct {
	mu        sync.Mutex
	lister    Lister
	ttl       time.Duration
	value     []models.Keyword
	fetchedAt time.Time

	now func() time.Time
}

// NewCache creates a keyword cache over the given store.
func NewCache(lister Lister, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lister: lister, ttl: ttl, now: time.Now}
}

// Get returns the cached keyword list, refetching when the TTL has expired.
// A failed refresh falls back to the previous value when one exists.
func (c *Cache) Get(ctx context.Context) ([]models.Keyword, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, nil
	}
	kws, err := c.lister.ListActiveKeywords(ctx)
	if err != nil {
		if c.value != nil {
			return c.value, nil
		}
		return nil, err
	}
	c.value = kws
	c.fetchedAt = c.now()
	return c.value, nil
}

// Invalidate drops the cached value, forcing the next Get to refetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
}
