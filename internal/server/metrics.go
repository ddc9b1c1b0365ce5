package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRouteLabel = "unmatched"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "members_http_requests_total",
			Help: "HTTP requests served by the members API.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "members_http_request_duration_seconds",
			Help:    "Latency of HTTP requests served by the members API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	realtimeStreamsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "members_realtime_streams_open",
		Help: "Auth event streams currently open.",
	})

	realtimeEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "members_realtime_events_dropped_total",
		Help: "Auth events not delivered because a stream buffer was full.",
	})
)

// metricsMiddleware labels requests by route template so path parameters do
// not inflate cardinality.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRouteLabel
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
