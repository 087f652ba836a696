package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Cache keeps completions for a TTL. Expired entries are pruned on Set.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cached
}

type cached struct {
	text    string
	expires time.Time
}

func NewCache() *Cache {
	return &Cache{entries: map[string]cached{}}
}

func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.text, true
}

func (c *Cache) Set(key, text string, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cached{text: text, expires: now.Add(ttl)}
}

// Len counts entries including expired ones not yet pruned.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// promptKey hashes the parts with NUL separators so that moving text
// between parts changes the key.
func promptKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func maxTokensPart(n int) string { return strconv.Itoa(n) }
