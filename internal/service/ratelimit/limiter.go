package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limit is a steady rate with a burst allowance.
type Limit struct {
	RPS   float64
	Burst int
}

// Limiter paces outbound calls per key (adapter name). Keys without a
// configured limit are never throttled.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	m      map[string]*rate.Limiter
}

func New(limits map[string]Limit) *Limiter {
	l := &Limiter{limits: make(map[string]Limit, len(limits)), m: make(map[string]*rate.Limiter)}
	for k, v := range limits {
		l.limits[k] = v
	}
	return l
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rl, ok := l.m[key]; ok {
		return rl
	}
	lim, ok := l.limits[key]
	if !ok || lim.RPS <= 0 {
		l.m[key] = nil
		return nil
	}
	burst := lim.Burst
	if burst < 1 {
		burst = 1
	}
	rl := rate.NewLimiter(rate.Limit(lim.RPS), burst)
	l.m[key] = rl
	return rl
}

// Set installs or replaces the limit for key.
func (l *Limiter) Set(key string, lim Limit) {
	l.mu.Lock()
	l.limits[key] = lim
	delete(l.m, key)
	l.mu.Unlock()
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	rl := l.get(key)
	return rl == nil || rl.Allow()
}

// Wait blocks until key may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	rl := l.get(key)
	if rl == nil {
		return nil
	}
	return rl.Wait(ctx)
}
