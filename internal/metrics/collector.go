// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 每个 Collector 持有独立的 Registry，同一进程可创建多个互不冲突。
type Collector struct {
	registry *prometheus.Registry

	// HTTP 指标（每次上游往返）
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM 指标（每次候选提供商尝试）
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	llmCost            *prometheus.CounterVec

	// 路由指标
	resolutionFailures *prometheus.CounterVec
	failovers          *prometheus.CounterVec

	// 重试指标
	retryAttempts *prometheus.CounterVec

	// 缓存指标
	cacheEvents *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of upstream HTTP round trips",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Upstream HTTP round trip duration in seconds (time to headers)",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "Upstream HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Upstream HTTP response size in bytes, when known",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests per provider attempt",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_estimated_total",
			Help:      "Estimated tokens used for cost ranking",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.llmCost = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_estimated_total",
			Help:      "Estimated LLM cost in USD",
		},
		[]string{"provider", "model"},
	)

	// 路由指标
	c.resolutionFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_failures_total",
			Help:      "Total number of requests with no eligible provider",
		},
		[]string{"model"},
	)

	c.failovers = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Total number of failovers to the next candidate provider",
		},
		[]string{"model", "from"},
	)

	// 重试指标
	c.retryAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retries after transient failures",
		},
		[]string{"attempt"},
	)

	// 缓存指标
	c.cacheEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Response cache events (hit, miss, bypass, write, write_error)",
		},
		[]string{"event"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回收集器使用的 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录一次上游往返；status 为 0 表示传输错误
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize >= 0 {
		c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize >= 0 {
		c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录一次候选提供商尝试
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int, cost float64) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	c.llmCost.WithLabelValues(provider, model).Add(cost)
}

// RecordResolutionFailure 记录无可用提供商
func (c *Collector) RecordResolutionFailure(model string) {
	c.resolutionFailures.WithLabelValues(model).Inc()
}

// RecordFailover 记录从 from 切换到下一个候选
func (c *Collector) RecordFailover(model, from string) {
	c.failovers.WithLabelValues(model, from).Inc()
}

// RecordRetry 记录一次重试；attempt 从 1 开始
func (c *Collector) RecordRetry(attempt int) {
	c.retryAttempts.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheEvent 记录缓存事件
func (c *Collector) RecordCacheEvent(event string) {
	c.cacheEvents.WithLabelValues(event).Inc()
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
