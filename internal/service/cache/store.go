package cache

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"FinGate/internal/domain/models"
	drepo "FinGate/internal/domain/repository"
	pkgcache "FinGate/pkg/cache"
	"FinGate/pkg/logger"
)

const mgetBatch = 200

// Store is the gateway cache. Entries stay in the backend for their TTL plus
// a stale retention window; freshness is judged from the entry timestamp so
// expired entries remain reachable through GetStale.
type Store struct {
	backend        pkgcache.Service
	policy         TTLPolicy
	staleRetention time.Duration
	log            *logger.Logger
	metrics        drepo.Metrics
	now            func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

var _ drepo.CacheStore = (*Store)(nil)

type StoreOption func(*Store)

func WithTTLPolicy(p TTLPolicy) StoreOption {
	return func(s *Store) { s.policy = p }
}

func WithStaleRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.staleRetention = d }
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithMetrics(m drepo.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func NewStore(backend pkgcache.Service, log *logger.Logger, opts ...StoreOption) *Store {
	s := &Store{
		backend:        backend,
		policy:         DefaultTTLPolicy(),
		staleRetention: 24 * time.Hour,
		log:            log,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s
}

func (s *Store) Policy() TTLPolicy { return s.policy }

func (s *Store) load(ctx context.Context, key string) (*models.CacheEntry, bool) {
	var e models.CacheEntry
	if err := s.backend.Get(ctx, key, &e); err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			s.warn(&models.CacheError{Op: "get", Key: key, Err: err})
		}
		return nil, false
	}
	return &e, true
}

// Get returns an entry only while it is within its TTL.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, bool) {
	e, ok := s.load(ctx, key)
	if !ok || !e.Fresh(s.now()) {
		s.misses.Add(1)
		s.record("miss")
		return nil, false
	}
	s.hits.Add(1)
	s.record("hit")
	return e, true
}

// GetStale returns an entry regardless of its TTL. It does not touch hit counters.
func (s *Store) GetStale(ctx context.Context, key string) (*models.CacheEntry, bool) {
	e, ok := s.load(ctx, key)
	if ok {
		s.record("stale")
	}
	return e, ok
}

// Set writes data under key. A zero ttl resolves from the policy by the data type of the first record.
func (s *Store) Set(ctx context.Context, key string, data []models.NormalizedData, ttl time.Duration) error {
	if len(data) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = s.policy.For(data[0].DataType)
	}
	e := models.CacheEntry{
		Data:       data,
		Timestamp:  s.now().UTC(),
		TTLSeconds: int(ttl / time.Second),
		Source:     data[0].Source,
	}
	if err := s.backend.Set(ctx, key, e, ttl+s.staleRetention); err != nil {
		cerr := &models.CacheError{Op: "set", Key: key, Err: err}
		s.warn(cerr)
		return cerr
	}
	return nil
}

// MGet returns the fresh entries among keys.
func (s *Store) MGet(ctx context.Context, keys ...string) map[string]*models.CacheEntry {
	out := make(map[string]*models.CacheEntry, len(keys))
	raw, err := pkgcache.MGetTyped[models.CacheEntry](ctx, s.backend, keys...)
	if err != nil {
		s.warn(&models.CacheError{Op: "mget", Key: strings.Join(keys, ","), Err: err})
		return out
	}
	now := s.now()
	for k, e := range raw {
		if e.Fresh(now) {
			e := e
			out[k] = &e
		}
	}
	return out
}

// MSet writes several record sets at once, each with its policy TTL.
func (s *Store) MSet(ctx context.Context, entries map[string][]models.NormalizedData) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now().UTC()
	values := make(map[string]interface{}, len(entries))
	for k, data := range entries {
		if len(data) == 0 {
			continue
		}
		ttl := s.policy.For(data[0].DataType)
		values[k] = models.CacheEntry{
			Data:       data,
			Timestamp:  now,
			TTLSeconds: int(ttl / time.Second),
			Source:     data[0].Source,
		}
	}
	if err := s.backend.MSet(ctx, values, s.policy.Max()+s.staleRetention); err != nil {
		cerr := &models.CacheError{Op: "mset", Key: "*", Err: err}
		s.warn(cerr)
		return cerr
	}
	return nil
}

// WarmCache preloads record sets keyed by their own type and asset.
func (s *Store) WarmCache(ctx context.Context, records []models.NormalizedData) error {
	entries := make(map[string][]models.NormalizedData)
	for _, r := range records {
		key := BuildKey(r.DataType, models.FetchParams{Symbol: r.Asset.Symbol, Chain: r.Asset.Chain})
		entries[key] = append(entries[key], r)
	}
	return s.MSet(ctx, entries)
}

func (s *Store) Invalidate(ctx context.Context, pattern string) (int, error) {
	n, err := s.backend.DeleteByPattern(ctx, strings.ToLower(pattern))
	if err != nil {
		cerr := &models.CacheError{Op: "invalidate", Key: pattern, Err: err}
		s.warn(cerr)
		return n, cerr
	}
	return n, nil
}

func (s *Store) InvalidateByType(ctx context.Context, dt models.DataType) (int, error) {
	n, err := s.Invalidate(ctx, typePattern(dt))
	if err != nil {
		return n, err
	}
	// a key with no identifiers is the bare type name
	if err := s.backend.Delete(ctx, strings.ToLower(string(dt))); err != nil {
		s.warn(&models.CacheError{Op: "delete", Key: string(dt), Err: err})
	}
	return n, nil
}

func (s *Store) InvalidateByAsset(ctx context.Context, symbol string) (int, error) {
	total := 0
	for _, p := range assetPatterns(symbol) {
		n, err := s.Invalidate(ctx, p)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// InvalidateBySource removes every entry produced by source. Keys carry no
// source, so this walks the keyspace.
func (s *Store) InvalidateBySource(ctx context.Context, source string) (int, error) {
	keys, err := s.backend.Keys(ctx, "*")
	if err != nil {
		cerr := &models.CacheError{Op: "keys", Key: "*", Err: err}
		s.warn(cerr)
		return 0, cerr
	}
	var victims []string
	err = s.walk(ctx, keys, func(k string, e models.CacheEntry) {
		if strings.EqualFold(e.Source, source) {
			victims = append(victims, k)
		}
	})
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}
	if err := s.backend.Delete(ctx, victims...); err != nil {
		cerr := &models.CacheError{Op: "delete", Key: source, Err: err}
		s.warn(cerr)
		return 0, cerr
	}
	return len(victims), nil
}

// AgedData lists keys whose entries are older than age.
func (s *Store) AgedData(ctx context.Context, age time.Duration) ([]string, error) {
	keys, err := s.backend.Keys(ctx, "*")
	if err != nil {
		return nil, &models.CacheError{Op: "keys", Key: "*", Err: err}
	}
	now := s.now()
	var aged []string
	err = s.walk(ctx, keys, func(k string, e models.CacheEntry) {
		if e.Age(now) > age {
			aged = append(aged, k)
		}
	})
	return aged, err
}

func (s *Store) walk(ctx context.Context, keys []string, fn func(string, models.CacheEntry)) error {
	for start := 0; start < len(keys); start += mgetBatch {
		end := min(start+mgetBatch, len(keys))
		batch, err := pkgcache.MGetTyped[models.CacheEntry](ctx, s.backend, keys[start:end]...)
		if err != nil {
			cerr := &models.CacheError{Op: "mget", Key: "*", Err: err}
			s.warn(cerr)
			return cerr
		}
		for k, e := range batch {
			fn(k, e)
		}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.Invalidate(ctx, "*")
	return err
}

func (s *Store) Stats(ctx context.Context) models.CacheStats {
	hits, misses := s.hits.Load(), s.misses.Load()
	st := models.CacheStats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = math.Round(float64(hits)/float64(total)*10000) / 10000
	}
	u, err := s.backend.Usage(ctx)
	if err != nil {
		s.warn(&models.CacheError{Op: "usage", Key: "*", Err: err})
		return st
	}
	st.Entries = u.Items
	st.EvictedCount = u.Evicted
	st.MemoryUsageMB = math.Round(float64(u.Bytes)/1024/1024*100) / 100
	return st
}

func (s *Store) IsHealthy(ctx context.Context) bool {
	return s.backend.Ping(ctx) == nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) warn(err *models.CacheError) {
	s.log.Warn("cache backend error, treating as miss",
		logger.String("op", err.Op),
		logger.String("key", err.Key),
		logger.Error(err.Err),
	)
}

func (s *Store) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(result)
	}
}
