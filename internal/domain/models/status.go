package models

import "time"

const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type AdapterStatus struct {
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	CircuitBreakerState string     `json:"circuitBreakerState"`
	FailureCount        int        `json:"failureCount"`
	SuccessCount        int        `json:"successCount"`
	LastCheck           time.Time  `json:"lastCheck"`
	LastFailure         *time.Time `json:"lastFailure,omitempty"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	NextCheckTime       *time.Time `json:"nextCheckTime,omitempty"`
}

type CacheStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hitRate"`
	Entries       int     `json:"entries"`
	EvictedCount  int64   `json:"evictedCount"`
	MemoryUsageMB float64 `json:"memoryUsageMB"`
}

type GatewayMetrics struct {
	RequestsTotal     int64   `json:"requestsTotal"`
	RequestsFailed    int64   `json:"requestsFailed"`
	AvgLatencyMs      float64 `json:"avgLatencyMs"`
	MaxLatencyMs      float64 `json:"maxLatencyMs"`
	P95LatencyMs      float64 `json:"p95LatencyMs"`
	FailoverCount     int64   `json:"failoverCount"`
	StaleDataReturned int64   `json:"staleDataReturned"`
}

type GatewayStatus struct {
	Name          string          `json:"name"`
	Health        string          `json:"health"`
	StartedAt     time.Time       `json:"startedAt"`
	UptimeSeconds float64         `json:"uptime"`
	Adapters      []AdapterStatus `json:"adapters"`
	Cache         CacheStats      `json:"cache"`
	Metrics       GatewayMetrics  `json:"metrics"`
}
