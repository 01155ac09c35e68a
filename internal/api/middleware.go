// Package api holds the HTTP plumbing shared by the three services:
// error shape, request logging, Prometheus middleware, and the server
// wrapper.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarrysearch/quarry/internal/logger"
)

// ErrorResponse is the error body every endpoint returns on failure.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Error writes a JSON error response.
func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

// RequestLogger logs each request with latency and status.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}

// HTTPMetrics observes request counts and latency per route.
func HTTPMetrics(reg prometheus.Registerer, service string) gin.HandlerFunc {
	factory := promauto.With(reg)
	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Name:        "http_requests_total",
		Help:        "HTTP requests by route and status.",
		ConstLabels: prometheus.Labels{"service": service},
	}, []string{"method", "route", "status"})
	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request latency by route.",
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     prometheus.DefBuckets,
	}, []string{"method", "route"})

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		duration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the registry on /metrics.
func MetricsHandler(reg *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ServerTimeouts mirrors the config server section.
type ServerTimeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// NewServer wraps a gin engine in an http.Server with sane timeouts.
func NewServer(addr string, engine *gin.Engine, timeouts ServerTimeouts) *http.Server {
	if timeouts.Read <= 0 {
		timeouts.Read = 15 * time.Second
	}
	if timeouts.Write <= 0 {
		timeouts.Write = 15 * time.Second
	}
	if timeouts.Idle <= 0 {
		timeouts.Idle = 60 * time.Second
	}
	return &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  timeouts.Read,
		WriteTimeout: timeouts.Write,
		IdleTimeout:  timeouts.Idle,
	}
}
