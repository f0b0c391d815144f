// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 代理指标
	proxyRequestsTotal    *prometheus.CounterVec
	proxyUpstreamAttempts *prometheus.CounterVec
	proxyRetries          *prometheus.CounterVec

	// 熔断器指标
	breakerState *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec

	// 轮换指标
	rotationSelectionDuration *prometheus.HistogramVec
	rotationNoKeyAvailable    *prometheus.CounterVec

	// 限流指标
	clientRateLimited *prometheus.CounterVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 代理指标
	c.proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of proxied requests by final outcome",
		},
		[]string{"status", "streamed"},
	)

	c.proxyUpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_upstream_attempts_total",
			Help:      "Total number of upstream attempts, one per key tried during a proxied request",
		},
		[]string{"fingerprint_bucket", "outcome"}, // outcome: success, rate_limited, server_error, client_error, transport_error, vault_unavailable
	)

	c.proxyRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_retries_total",
			Help:      "Total number of retries performed after a classified-retryable upstream response",
		},
		[]string{"reason"}, // reason: rate_limited, server_error
	)

	// 熔断器指标
	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per upstream key fingerprint bucket (0=closed, 1=half_open, 2=open)",
		},
		[]string{"fingerprint_bucket"},
	)

	c.breakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Total number of transitions into the open state",
		},
		[]string{"fingerprint_bucket"},
	)

	// 轮换指标
	c.rotationSelectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rotation_selection_duration_seconds",
			Help:      "Time taken to select an upstream key candidate",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	c.rotationNoKeyAvailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotation_no_key_available_total",
			Help:      "Total number of selection attempts that found no eligible upstream key",
		},
		[]string{"strategy"},
	)

	// 限流指标
	c.clientRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_rate_limited_total",
			Help:      "Total number of requests rejected by the per-minute client rate limiter",
		},
		[]string{"user_id_bucket"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔁 代理指标记录
// =============================================================================

// RecordProxyRequest records the final outcome of a proxied request.
func (c *Collector) RecordProxyRequest(status string, streamed bool) {
	c.proxyRequestsTotal.WithLabelValues(status, boolLabel(streamed)).Inc()
}

// RecordUpstreamAttempt records a single upstream call attempt within a proxied request.
func (c *Collector) RecordUpstreamAttempt(fingerprintBucket, outcome string) {
	c.proxyUpstreamAttempts.WithLabelValues(fingerprintBucket, outcome).Inc()
}

// RecordRetry records a retry triggered by a classified-retryable response.
func (c *Collector) RecordRetry(reason string) {
	c.proxyRetries.WithLabelValues(reason).Inc()
}

// =============================================================================
// 🧯 熔断器指标记录
// =============================================================================

// SetBreakerState reports the current state (0=closed, 1=half_open, 2=open) of a breaker.
func (c *Collector) SetBreakerState(fingerprintBucket string, state int) {
	c.breakerState.WithLabelValues(fingerprintBucket).Set(float64(state))
}

// RecordBreakerTrip records a transition into the open state.
func (c *Collector) RecordBreakerTrip(fingerprintBucket string) {
	c.breakerTrips.WithLabelValues(fingerprintBucket).Inc()
}

// =============================================================================
// 🔀 轮换指标记录
// =============================================================================

// RecordSelection records the latency of a rotation-strategy candidate selection.
func (c *Collector) RecordSelection(strategy string, duration time.Duration) {
	c.rotationSelectionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordNoKeyAvailable records a selection attempt that found no eligible key.
func (c *Collector) RecordNoKeyAvailable(strategy string) {
	c.rotationNoKeyAvailable.WithLabelValues(strategy).Inc()
}

// =============================================================================
// 🚦 限流指标记录
// =============================================================================

// RecordClientRateLimited records a request rejected by the client rate limiter.
func (c *Collector) RecordClientRateLimited(userIDBucket string) {
	c.clientRateLimited.WithLabelValues(userIDBucket).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
