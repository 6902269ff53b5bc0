package cache

import (
	"sync"
	"time"
)

type entry struct {
	v   any
	exp time.Time
}

// LocalCache is a small TTL map adapters use to absorb repeated upstream calls.
type LocalCache struct {
	mu  sync.RWMutex
	m   map[string]entry
	ttl time.Duration
}

func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{m: make(map[string]entry), ttl: ttl}
}

func (c *LocalCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

// Set stores v with the cache default TTL when ttl is zero.
func (c *LocalCache) Set(key string, v any, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry{v: v, exp: exp}
	c.mu.Unlock()
}

func (c *LocalCache) Clear() {
	c.mu.Lock()
	c.m = make(map[string]entry)
	c.mu.Unlock()
}

func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
