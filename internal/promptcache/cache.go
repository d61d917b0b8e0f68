// Package promptcache holds synthesized prompt audio per call for a short TTL so the
// telephony platform can fetch it after the answer markup references it.
package promptcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long synthesized audio stays playable.
const DefaultTTL = 15 * time.Minute

// Entry is one cached prompt.
type Entry struct {
	Audio       []byte
	ContentType string
	ExpiresAt   time.Time
}

// Loader produces audio on a cache miss.
type Loader func(ctx context.Context) (audio []byte, contentType string, err error)

// Cache stores at most one entry per key. Expired entries are invisible and are
// replaced on the next load.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{entries: make(map[string]Entry), ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry for key when now < ExpiresAt.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// Put stores audio under key, replacing any previous entry.
func (c *Cache) Put(key string, audio []byte, contentType string) Entry {
	entry := Entry{Audio: audio, ContentType: contentType, ExpiresAt: c.now().Add(c.ttl)}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry
}

// GetOrLoad returns the live entry for key or runs load once for all concurrent
// callers on a miss. Failed loads are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load Loader) (Entry, error) {
	if entry, ok := c.Get(key); ok {
		return entry, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if entry, ok := c.Get(key); ok {
			return entry, nil
		}
		audio, contentType, err := load(ctx)
		if err != nil {
			return Entry{}, err
		}
		return c.Put(key, audio, contentType), nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Len reports the number of stored entries, live or not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired entries.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
