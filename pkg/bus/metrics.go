package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collector struct {
	published *prometheus.CounterVec
	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// newCollector builds the bus counters; a nil registerer leaves them unregistered.
func newCollector(reg prometheus.Registerer) *collector {
	f := promauto.With(reg)
	labels := []string{"bus", "topic"}
	return &collector{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingate_bus_messages_published_total",
			Help: "Messages accepted by the bus",
		}, labels),
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingate_bus_messages_processed_total",
			Help: "Messages delivered to at least one handler",
		}, labels),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingate_bus_handler_failures_total",
			Help: "Handler invocations that returned an error or panicked",
		}, labels),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingate_bus_messages_dropped_total",
			Help: "Messages dropped for lack of subscribers or queue space",
		}, labels),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fingate_bus_dispatch_duration_seconds",
			Help:    "Time spent fanning a message out to its handlers",
			Buckets: prometheus.DefBuckets,
		}, labels),
	}
}
