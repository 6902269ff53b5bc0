package breaker

import (
	"sort"
	"sync"
)

// Manager memoizes one breaker per adapter name.
type Manager struct {
	defaults  Config
	overrides map[string]Config
	listener  StateListener

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

type Option func(*Manager)

// WithOverride sets a per-adapter configuration.
func WithOverride(name string, cfg Config) Option {
	return func(m *Manager) {
		m.overrides[name] = cfg
	}
}

// WithListener observes every transition of every breaker.
func WithListener(l StateListener) Option {
	return func(m *Manager) {
		m.listener = l
	}
}

func NewManager(defaults Config, opts ...Option) *Manager {
	m := &Manager{
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Config),
		breakers:  make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	cfg := m.defaults
	if o, ok := m.overrides[name]; ok {
		cfg = o
	}
	b = New(name, cfg, m.listener)
	m.breakers[name] = b
	return b
}

func (m *Manager) list() []*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Snapshot returns the state of every known breaker ordered by name.
func (m *Manager) Snapshot() []Snapshot {
	bs := m.list()
	out := make([]Snapshot, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Snapshot())
	}
	return out
}

// Health maps adapter name to state.
func (m *Manager) Health() map[string]State {
	bs := m.list()
	out := make(map[string]State, len(bs))
	for _, b := range bs {
		out[b.name] = b.State()
	}
	return out
}

func (m *Manager) AnyOpen() bool {
	for _, b := range m.list() {
		if b.State() == StateOpen {
			return true
		}
	}
	return false
}

// Reset closes a single breaker. Unknown names are ignored.
func (m *Manager) Reset(name string) {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
}

func (m *Manager) ResetAll() {
	for _, b := range m.list() {
		b.Reset()
	}
}
