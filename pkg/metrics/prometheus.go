package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	adapterCalls *prometheus.CounterVec
	adapterTime  *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	cacheLookups *prometheus.CounterVec
	failovers    *prometheus.CounterVec
	staleServed  *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// New creates a Prometheus recorder registered on reg. A nil reg keeps the
// collectors private, which is what tests want.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fingate_requests_total",
				Help: "Gateway requests handled by message type and outcome",
			},
			[]string{"type", "success"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fingate_request_duration_seconds",
				Help:    "End to end request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		adapterCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fingate_adapter_calls_total",
				Help: "Adapter calls by outcome (success, failure, skipped, empty)",
			},
			[]string{"adapter", "data_type", "outcome"},
		),
		adapterTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fingate_adapter_call_duration_seconds",
				Help:    "Duration of adapter calls including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"adapter"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fingate_circuit_breaker_state",
				Help: "Circuit breaker state per adapter (0 closed, 1 half-open, 2 open)",
			},
			[]string{"adapter"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fingate_cache_lookups_total",
				Help: "Cache lookups by result (hit, miss, stale)",
			},
			[]string{"result"},
		),
		failovers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fingate_failover_exhausted_total",
				Help: "Items for which every adapter failed and no stale entry existed",
			},
			[]string{"data_type"},
		),
		staleServed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fingate_stale_served_total",
				Help: "Items answered from an expired cache entry",
			},
			[]string{"data_type"},
		),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "fingate_requests_in_flight",
			Help: "Requests currently admitted to the worker pool",
		}),
	}
}

func (r *Recorder) RecordRequest(msgType string, success bool, seconds float64) {
	ok := "false"
	if success {
		ok = "true"
	}
	r.requests.WithLabelValues(msgType, ok).Inc()
	r.latency.WithLabelValues(msgType).Observe(seconds)
}

func (r *Recorder) RecordAdapterCall(adapter, dataType, outcome string, seconds float64) {
	r.adapterCalls.WithLabelValues(adapter, dataType, outcome).Inc()
	if seconds > 0 {
		r.adapterTime.WithLabelValues(adapter).Observe(seconds)
	}
}

func (r *Recorder) RecordBreakerState(adapter string, state int) {
	r.breakerState.WithLabelValues(adapter).Set(float64(state))
}

func (r *Recorder) RecordCacheLookup(result string) {
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordFailover(dataType string) {
	r.failovers.WithLabelValues(dataType).Inc()
}

func (r *Recorder) RecordStaleServed(dataType string) {
	r.staleServed.WithLabelValues(dataType).Inc()
}

func (r *Recorder) RecordInFlight(delta int) {
	r.inFlight.Add(float64(delta))
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordRequest(string, bool, float64) {}
func (Nop) RecordAdapterCall(string, string, string, float64) {}
func (Nop) RecordBreakerState(string, int) {}
func (Nop) RecordCacheLookup(string) {}
func (Nop) RecordFailover(string) {}
func (Nop) RecordStaleServed(string) {}
func (Nop) RecordInFlight(int) {}
