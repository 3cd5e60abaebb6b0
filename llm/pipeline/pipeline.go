package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/llmrelay/internal/metrics"
	"github.com/BaSui01/llmrelay/internal/tlsutil"
	"github.com/BaSui01/llmrelay/llm/cache"
	"github.com/BaSui01/llmrelay/llm/config"
	"github.com/BaSui01/llmrelay/llm/middleware"
	"github.com/BaSui01/llmrelay/llm/retry"
	"github.com/BaSui01/llmrelay/llm/router"
	"github.com/BaSui01/llmrelay/types"
)

// RequestBuilder 为一个候选构造出站请求
// 返回的请求应使用 res.Connection.BaseURL；认证头由管线补齐。
type RequestBuilder func(ctx context.Context, res *router.Resolution) (*http.Request, error)

// Request 一次管线调用
type Request struct {
	ModelID  string
	Criteria *router.Criteria
	Build    RequestBuilder
}

// Options 管线组件
// 零值可用：直连上游、无缓存存储、默认重试策略。
type Options struct {
	// Transport 最内层传输，nil 时使用 tlsutil.UpstreamTransport
	Transport http.RoundTripper
	// Store 响应缓存存储，nil 时所有请求直接转发
	Store cache.Store
	// Cache 缓存行为；Retry 字段由管线填充
	Cache cache.Options
	// Retry 重试策略，nil 时使用默认策略
	Retry *retry.RetryPolicy

	Metrics     *metrics.Collector
	Tracer      trace.Tracer
	RateLimiter *rate.Limiter
	Timeout     time.Duration
	UserAgent   string

	// Middlewares 追加在内置中间件之后（更靠近缓存层）
	Middlewares []middleware.Middleware
	// Closers 随管线关闭的资源，按注册的逆序关闭
	Closers []io.Closer
}

// Pipeline 带故障转移的 LLM 请求管线，可并发使用
type Pipeline struct {
	app      *config.AppConfig
	resolver *router.Resolver
	cache    *cache.Transport
	client   http.RoundTripper
	metrics  *metrics.Collector
	closers  []io.Closer
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New 组装管线
func New(app *config.AppConfig, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if app == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "app config is required")
	}
	if err := app.Validate(); err != nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig, "invalid model configuration").WithCause(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	inner := opts.Transport
	if inner == nil {
		inner = tlsutil.UpstreamTransport()
	}

	policy := opts.Retry
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if opts.Metrics != nil {
		policy = withRetryMetrics(policy, opts.Metrics)
	}

	cacheOpts := opts.Cache
	cacheOpts.Retry = retry.NewExecutor(policy, logger)
	if opts.Metrics != nil {
		onEvent := cacheOpts.OnEvent
		cacheOpts.OnEvent = func(event string) {
			opts.Metrics.RecordCacheEvent(event)
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
	cached := cache.NewTransport(inner, opts.Store, cacheOpts, logger)

	chain := middleware.NewChain(
		middleware.RecoveryMiddleware(func(v any) {
			logger.Error("panic in upstream round trip", zap.Any("panic", v))
		}),
		middleware.RequestIDMiddleware(),
		middleware.LoggingMiddleware(logger),
		middleware.TracingMiddleware(opts.Tracer),
	)
	if opts.Metrics != nil {
		chain.Use(middleware.MetricsMiddleware(opts.Metrics))
	}
	if opts.RateLimiter != nil {
		chain.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
	}
	if opts.Timeout > 0 {
		chain.Use(middleware.TimeoutMiddleware(opts.Timeout))
	}
	if opts.UserAgent != "" {
		chain.Use(middleware.HeadersMiddleware(map[string]string{"User-Agent": opts.UserAgent}))
	}
	for _, m := range opts.Middlewares {
		chain.Use(m)
	}

	return &Pipeline{
		app:      app,
		resolver: router.NewResolver(logger),
		cache:    cached,
		client:   chain.Then(cached),
		metrics:  opts.Metrics,
		closers:  opts.Closers,
		logger:   logger.With(zap.String("component", "pipeline")),
	}, nil
}

// withRetryMetrics 在保留调用方回调的前提下记录重试次数
func withRetryMetrics(p *retry.RetryPolicy, m *metrics.Collector) *retry.RetryPolicy {
	cp := *p
	prev := p.OnRetry
	cp.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.RecordRetry(attempt)
		if prev != nil {
			prev(attempt, err, delay)
		}
	}
	return &cp
}

// Resolve 只做 Provider 解析
func (p *Pipeline) Resolve(modelID string, criteria *router.Criteria) ([]router.Resolution, error) {
	if p.isClosed() {
		return nil, types.NewDisposedError("pipeline")
	}
	res, err := p.resolver.ResolveByID(p.app, modelID, criteria)
	if err != nil && p.metrics != nil {
		p.metrics.RecordResolutionFailure(modelID)
	}
	return res, err
}

// Do 按候选顺序发送请求，失败时故障转移
// 成功时返回响应（调用方负责关闭 Body）与实际服务的候选。
func (p *Pipeline) Do(ctx context.Context, req Request) (*http.Response, *router.Resolution, error) {
	if req.Build == nil {
		return nil, nil, types.NewError(types.ErrInvalidRequest, "request builder is required")
	}

	resolutions, err := p.Resolve(req.ModelID, req.Criteria)
	if err != nil {
		return nil, nil, err
	}

	var (
		lastErr error
		last    *router.Resolution
	)
	for i := range resolutions {
		res := &resolutions[i]
		if i > 0 {
			if p.metrics != nil {
				p.metrics.RecordFailover(req.ModelID, last.String())
			}
			p.logger.Warn("provider failed, trying next candidate",
				zap.String("model", req.ModelID),
				zap.String("failed", last.String()),
				zap.String("next", res.String()),
				zap.Error(lastErr))
		}
		last = res

		if p.isClosed() {
			return nil, res, types.NewDisposedError("pipeline")
		}
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}

		resp, err := p.attempt(ctx, req, res)
		if err == nil {
			return resp, res, nil
		}
		if !failoverable(ctx, err) {
			return nil, res, err
		}
		lastErr = err
	}

	return nil, last, fmt.Errorf("all %d candidates failed for model %s: %w", len(resolutions), req.ModelID, lastErr)
}

// attempt 对单个候选发送一次（含重试）；非 2xx/3xx 响应转为 *types.Error
func (p *Pipeline) attempt(ctx context.Context, req Request, res *router.Resolution) (*http.Response, error) {
	httpReq, err := req.Build(ctx, res)
	if err != nil {
		return nil, &buildError{err: err}
	}
	if httpReq.Context() != ctx {
		httpReq = httpReq.WithContext(ctx)
	}
	applyConnection(httpReq, res.Connection)

	provider := res.EffectiveProviderName()
	start := time.Now()
	resp, err := p.client.RoundTrip(httpReq)
	if err != nil {
		p.record(req, res, "error", start)
		var te *types.Error
		if errors.As(err, &te) {
			if te.Provider == "" {
				te = te.WithProvider(provider)
			}
			return nil, te
		}
		return nil, types.NewError(types.ErrUpstreamError, "upstream request failed").
			WithCause(err).
			WithRetryable(retry.IsRetryableError(err)).
			WithProvider(provider)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		p.record(req, res, "error", start)
		return nil, retry.ResponseError(resp, provider)
	}

	p.record(req, res, "success", start)
	return resp, nil
}

func (p *Pipeline) record(req Request, res *router.Resolution, status string, start time.Time) {
	if p.metrics == nil {
		return
	}
	prompt, completion := router.DefaultPromptTokens, router.DefaultCompletionTokens
	if c := req.Criteria; c != nil {
		if c.PromptTokens > 0 {
			prompt = c.PromptTokens
		}
		if c.CompletionTokens > 0 {
			completion = c.CompletionTokens
		}
	}
	p.metrics.RecordLLMRequest(res.EffectiveProviderName(), res.EffectiveModelName(), status,
		time.Since(start), prompt, completion, res.EstimatedCost(prompt, completion))
}

// failoverable 除 429 以外的 4xx、请求构造失败与调用方取消都不切换候选
func failoverable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var be *buildError
	if errors.As(err, &be) {
		return false
	}
	if types.IsErrorCode(err, types.ErrCodeDisposed) {
		return false
	}
	if te, ok := types.AsError(err); ok && te.HTTPStatus >= 400 && te.HTTPStatus < 500 {
		return te.HTTPStatus == http.StatusTooManyRequests
	}
	return true
}

// applyConnection 补齐认证与候选级请求头，不覆盖构造器已设置的值
func applyConnection(req *http.Request, conn router.ConnectionInfo) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if conn.APIKey != "" && req.Header.Get("Authorization") == "" {
		scheme := conn.AuthScheme
		if scheme == "" {
			scheme = router.DefaultAuthScheme
		}
		req.Header.Set("Authorization", scheme+" "+conn.APIKey)
	}
	for k, v := range conn.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
}

// buildError 请求构造失败，属于调用方错误
type buildError struct {
	err error
}

func (e *buildError) Error() string { return "build request: " + e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

// HTTPClient 返回使用完整管线（不含故障转移）的 http.Client
func (p *Pipeline) HTTPClient() *http.Client {
	return &http.Client{Transport: p.client}
}

// CacheStats 返回缓存统计
func (p *Pipeline) CacheStats() cache.Stats {
	return p.cache.Stats()
}

// Flush 等待进行中的缓存写入
func (p *Pipeline) Flush(timeout time.Duration) bool {
	return p.cache.Flush(timeout)
}

// Close 关闭缓存传输层与注册的资源；之后所有调用返回 ErrDisposed
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	errs := []error{p.cache.Close()}
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i].Close())
	}
	return errors.Join(errs...)
}

func (p *Pipeline) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// JoinURL 拼接 BaseURL 与路径，处理多余或缺失的斜杠
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
