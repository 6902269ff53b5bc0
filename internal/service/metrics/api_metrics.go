package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FinGate/internal/domain/models"
)

// Error kinds used as the "kind" label of APIErrors.
const (
	KindInvalid     = "invalid"
	KindNoData      = "no_data"
	KindUnavailable = "unavailable"
	KindInternal    = "internal"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fingate",
		Subsystem: "api",
		Name:      "latency_seconds",
		Help:      "Gateway API latency by endpoint, validation included.",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	APIErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fingate",
		Subsystem: "api",
		Name:      "errors_total",
		Help:      "Failed gateway API calls by endpoint and kind.",
	}, []string{"endpoint", "kind"})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fingate",
		Subsystem: "api",
		Name:      "ws_clients",
		Help:      "Connected websocket update subscribers.",
	})
)

// Register adds the API collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(APILatency, APIErrors, WSClients)
	})
}

// Kind classifies err for the errors counter.
func Kind(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return KindInvalid
	case errors.Is(err, models.ErrNoData):
		return KindNoData
	case errors.Is(err, models.ErrServiceClosed), errors.Is(err, models.ErrNotInitialized):
		return KindUnavailable
	}
	return KindInternal
}

// Observe records one endpoint call started at start.
func Observe(endpoint string, start time.Time, err error) {
	APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		APIErrors.WithLabelValues(endpoint, Kind(err)).Inc()
	}
}
