// Package cache is a process-local TTL cache used for user profiles. It is
// correct only for a single-instance deployment: with several processes each
// holds its own copy, and invalidation-on-write does not cross process
// boundaries.
package cache

import (
	"fmt"
	"sync"
	"time"
)

type entry struct {
	value  any
	expiry time.Time
}

type Cache struct {
	mu     sync.Mutex
	items  map[string]entry
	hits   int64
	misses int64
}

func New() *Cache {
	return &Cache{items: make(map[string]entry)}
}

// UserKey is the cache key of a user profile mirrored by tg id.
func UserKey(tgID int64) string {
	return fmt.Sprintf("user:tg_id:%d", tgID)
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiry) {
		delete(c.items, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expiry: time.Now().Add(ttl)}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

type Stats struct {
	Size   int
	Hits   int64
	Misses int64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.items), Hits: c.hits, Misses: c.misses}
}
