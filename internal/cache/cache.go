package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type item struct {
	value     string
	expiresAt time.Time
}

// Cache maps content hashes to generated summaries for the life of a process.
// Expired entries are dropped lazily on Get and by Cleanup.
type Cache struct {
	mu    sync.RWMutex
	items map[string]item
	ttl   time.Duration
	now   func() time.Time
}

// New returns a cache whose entries live for ttl; ttl <= 0 never expires.
func New(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]item),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.items[key] = item{value: value, expiresAt: expires}
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	it, exists := c.items[key]
	c.mu.RUnlock()
	if !exists {
		return "", false
	}

	if !it.expiresAt.IsZero() && c.now().After(it.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return "", false
	}
	return it.value, true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, it := range c.items {
		if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Key hashes the parts that determine a summary. A separator keeps
// ("ab", "c") and ("a", "bc") apart.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
