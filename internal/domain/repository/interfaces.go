package repository

import (
	"context"
	"time"

	"FinGate/internal/domain/models"
)

// Adapter is the single contract every upstream integration implements.
// An empty slice with a nil error counts as a failure for failover purposes.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, dataType models.DataType, params models.FetchParams) ([]models.NormalizedData, error)
}

// CacheInvalidator is implemented by adapters that keep a private cache.
type CacheInvalidator interface {
	InvalidateCache()
}

// Closer is implemented by adapters holding long lived connections.
type Closer interface {
	Close() error
}

// CacheStore is best effort: backend failures read as misses.
type CacheStore interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, bool)
	GetStale(ctx context.Context, key string) (*models.CacheEntry, bool)
	Set(ctx context.Context, key string, data []models.NormalizedData, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) (int, error)
	InvalidateByType(ctx context.Context, dt models.DataType) (int, error)
	InvalidateBySource(ctx context.Context, source string) (int, error)
	InvalidateByAsset(ctx context.Context, symbol string) (int, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) models.CacheStats
	IsHealthy(ctx context.Context) bool
	Close() error
}

// HistoryStore keeps normalized records past their cache lifetime for
// anomaly scoring and interpolation.
type HistoryStore interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, records []models.NormalizedData) error
	Recent(ctx context.Context, dt models.DataType, symbol string, n int) ([]models.NormalizedData, error)
	Range(ctx context.Context, dt models.DataType, symbol string, from, to time.Time) ([]models.NormalizedData, error)
	Health(ctx context.Context) error
	Close() error
}

// Publisher mirrors gateway messages onto an external bus.
type Publisher interface {
	Publish(ctx context.Context, msg models.GatewayMessage) error
	Close() error
}

type Metrics interface {
	RecordRequest(msgType string, success bool, seconds float64)
	RecordAdapterCall(adapter string, dataType string, outcome string, seconds float64)
	RecordBreakerState(adapter string, state int)
	RecordCacheLookup(result string)
	RecordFailover(dataType string)
	RecordStaleServed(dataType string)
	RecordInFlight(delta int)
}
