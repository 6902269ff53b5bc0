package middleware

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"FinGate/pkg/logger"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
	inFlight prometheus.Gauge
	streams  prometheus.Gauge
}

var (
	metricsMu    sync.Mutex
	metricsByReg = make(map[prometheus.Registerer]*httpMetrics)
)

// metricsFor registers the HTTP collectors once per registerer.
func metricsFor(reg prometheus.Registerer) *httpMetrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m, ok := metricsByReg[reg]; ok {
		return m
	}
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fingate_http_requests_total",
			Help: "HTTP requests by route template, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fingate_http_request_duration_seconds",
			Help:    "HTTP request latency, websocket streams excluded.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "class"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fingate_http_response_size_bytes",
			Help:    "HTTP response body size.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"route", "class"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fingate_http_in_flight_requests",
			Help: "Requests currently being served.",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fingate_http_open_streams",
			Help: "Upgraded websocket connections currently open.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.size, m.inFlight, m.streams)
	metricsByReg[reg] = m
	return m
}

// Metrics records request metrics labelled by route template, which keeps
// label cardinality bounded. Requests slower than slowThreshold are logged
// as warnings; websocket upgrades are only counted.
func Metrics(reg prometheus.Registerer, l *logger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if l == nil {
		l = logger.Nop()
	}
	m := metricsFor(reg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			if isUpgrade(c) {
				m.streams.Inc()
				defer m.streams.Dec()
				err := next(c)
				m.requests.WithLabelValues(route, method, strconv.Itoa(c.Response().Status)).Inc()
				return err
			}

			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()

			// resolve the error here so the status below is the one sent
			if err := next(c); err != nil {
				c.Error(err)
			}

			code := c.Response().Status
			class := strconv.Itoa(code/100) + "xx"
			dur := time.Since(start)
			m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			m.duration.WithLabelValues(route, method, class).Observe(dur.Seconds())
			m.size.WithLabelValues(route, class).Observe(float64(c.Response().Size))

			if slowThreshold > 0 && dur >= slowThreshold {
				l.Warn("http request slow",
					logger.String("route", route),
					logger.String("method", method),
					logger.Int("status", code),
					logger.Duration("duration", dur))
			}
			return nil
		}
	}
}

func isUpgrade(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket")
}
