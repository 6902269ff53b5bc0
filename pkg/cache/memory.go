package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entries without an expiration still age out eventually
const memoryMaxTTL = 7 * 24 * time.Hour

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool { return now.After(e.expireAt) }

func (e *memoryEntry) size() int64 { return int64(len(e.key) + len(e.value)) }

// MemoryCache is an in-process Service. When MaxSize is set, the least
// recently used entry is evicted to make room for a new key.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List // front is most recently used
	maxSize int
	bytes   int64
	evicted int64
	now     func() time.Time

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         10000,
		CleanupInterval: time.Minute,
		Clock:           time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: cfg.MaxSize,
		now:     cfg.Clock,
		ticker:  time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go mc.sweepLoop()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	mc.put(key, data, expiration)
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) MSet(_ context.Context, values map[string]interface{}, expiration time.Duration) error {
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		data, err := encode(value)
		if err != nil {
			return err
		}
		encoded[key] = data
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key, data := range encoded {
		mc.put(key, data, expiration)
	}
	return nil
}

// put stores data under key. mc.mu is held.
func (mc *MemoryCache) put(key string, data []byte, expiration time.Duration) {
	if expiration <= 0 || expiration > memoryMaxTTL {
		expiration = memoryMaxTTL
	}
	expireAt := mc.now().Add(expiration)

	if el, ok := mc.items[key]; ok {
		e := el.Value.(*memoryEntry)
		mc.bytes += int64(len(data) - len(e.value))
		e.value, e.expireAt = data, expireAt
		mc.lru.MoveToFront(el)
		return
	}
	if mc.maxSize > 0 {
		for mc.lru.Len() >= mc.maxSize {
			mc.remove(mc.lru.Back())
			mc.evicted++
		}
	}
	e := &memoryEntry{key: key, value: data, expireAt: expireAt}
	mc.items[key] = mc.lru.PushFront(e)
	mc.bytes += e.size()
}

// remove drops el. mc.mu is held.
func (mc *MemoryCache) remove(el *list.Element) {
	e := mc.lru.Remove(el).(*memoryEntry)
	delete(mc.items, e.key)
	mc.bytes -= e.size()
}

// lookup returns the live entry for key and marks it used. mc.mu is held.
func (mc *MemoryCache) lookup(key string, now time.Time) (*memoryEntry, bool) {
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryEntry)
	if e.expired(now) {
		mc.remove(el)
		return nil, false
	}
	mc.lru.MoveToFront(el)
	return e, true
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	e, ok := mc.lookup(key, mc.now())
	var data []byte
	if ok {
		data = e.value
	}
	mc.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if e, ok := mc.lookup(key, now); ok {
			out[key] = string(e.value)
		}
	}
	return out, nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if el, ok := mc.items[key]; ok {
			mc.remove(el)
		}
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return 0, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	n := 0
	for key, el := range mc.items {
		if re.MatchString(key) {
			mc.remove(el)
			n++
		}
	}
	return n, nil
}

// Keys lists live keys matching pattern. It does not count as a use.
func (mc *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	keys := make([]string, 0, len(mc.items))
	for key, el := range mc.items {
		if el.Value.(*memoryEntry).expired(now) {
			continue
		}
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (mc *MemoryCache) Usage(_ context.Context) (Usage, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return Usage{Items: len(mc.items), Bytes: mc.bytes, Evicted: mc.evicted}, nil
}

func (mc *MemoryCache) Ping(_ context.Context) error { return nil }

// Sweep drops every expired entry and reports how many went.
func (mc *MemoryCache) Sweep() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	n := 0
	for _, el := range mc.items {
		if el.Value.(*memoryEntry).expired(now) {
			mc.remove(el)
			n++
		}
	}
	return n
}

func (mc *MemoryCache) sweepLoop() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.ticker.C:
			mc.Sweep()
		}
	}
}

// Close stops the sweep loop. The cache stays usable.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.ticker.Stop()
		close(mc.done)
	})
	return nil
}
