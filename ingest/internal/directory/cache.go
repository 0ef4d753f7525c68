package directory

import (
	"context"
	"sync"
	"time"

	"github.com/convohook/convohook/ingest/internal/models"
)

// Lookup is the method set cached by CachedDirectory.
type Lookup interface {
	LookupByCredential(ctx context.Context, credential string) (*models.Instance, error)
}

// CachedDirectory memoizes successful lookups for a TTL so a busy instance
// does not hit the database on every delivery. Misses are never cached, so a
// freshly onboarded instance is visible immediately.
type CachedDirectory struct {
	next Lookup
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	instance  models.Instance
	expiresAt time.Time
}

// NewCachedDirectory wraps next. A non-positive ttl disables caching.
func NewCachedDirectory(next Lookup, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedDirectory) LookupByCredential(ctx context.Context, credential string) (*models.Instance, error) {
	if c.ttl <= 0 {
		return c.next.LookupByCredential(ctx, credential)
	}

	if inst, ok := c.get(credential); ok {
		return inst, nil
	}

	inst, err := c.next.LookupByCredential(ctx, credential)
	if err != nil {
		return nil, err
	}

	c.set(credential, inst)
	return inst, nil
}

func (c *CachedDirectory) get(credential string) (*models.Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[credential]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	inst := entry.instance
	return &inst, true
}

func (c *CachedDirectory) set(credential string, inst *models.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	c.entries[credential] = cacheEntry{instance: *inst, expiresAt: now.Add(c.ttl)}
}
