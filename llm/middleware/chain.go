package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware 将 RoundTripper 包裹并添加额外功能.
type Middleware func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc 让普通函数实现 http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain 表示中间件链.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain 创建新的中间件链.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Use 将中间件添加到链中.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then 用链中的所有中间件包裹 rt；第一个中间件最先看到请求.
// rt 为 nil 时使用 http.DefaultTransport.
func (c *Chain) Then(rt http.RoundTripper) http.RoundTripper {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rt == nil {
		rt = http.DefaultTransport
	}
	// 按倒序应用中间件
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		rt = c.middlewares[i](rt)
	}
	return rt
}

// Len 返回链中的中间件数量.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// 内置中间件

// RequestIDHeader 请求 ID 头.
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware 记录请求方法、路径、状态码与耗时.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "transport"))

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("host", req.URL.Host),
				zap.String("path", req.URL.Path),
				zap.Duration("duration", time.Since(start)),
			}
			if id := req.Header.Get(RequestIDHeader); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if err != nil {
				logger.Warn("upstream request failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("upstream request", append(fields, zap.Int("status", resp.StatusCode))...)
			return resp, nil
		})
	}
}

// RequestIDMiddleware 请求未携带 X-Request-ID 时生成一个.
func RequestIDMiddleware() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(RequestIDHeader) != "" {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set(RequestIDHeader, uuid.NewString())
			return next.RoundTrip(out)
		})
	}
}

// HeadersMiddleware 添加固定请求头.
func HeadersMiddleware(headers map[string]string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if len(headers) == 0 {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			for k, v := range headers {
				out.Header.Set(k, v)
			}
			return next.RoundTrip(out)
		})
	}
}

// TimeoutMiddleware 对请求添加超时；超时覆盖到响应体读取结束.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			resp, err := next.RoundTrip(req.WithContext(ctx))
			if err != nil || resp == nil || resp.Body == nil {
				cancel()
				return resp, err
			}
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		})
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// RateLimitMiddleware 在发送前阻塞等待令牌.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if err := limiter.Wait(req.Context()); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
			return next.RoundTrip(req)
		})
	}
}

// RecoveryMiddleware 从 panic 中恢复.
func RecoveryMiddleware(onPanic func(any)) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (resp *http.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(r)
					}
					resp, err = nil, &PanicError{Value: r}
				}
			}()
			return next.RoundTrip(req)
		})
	}
}

// PanicError 表示已恢复的 panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// TracingMiddleware 为每次往返创建一个 span，并把追踪上下文注入请求头.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("github.com/BaSui01/llmrelay/llm/middleware")
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			ctx, span := tracer.Start(req.Context(), "llm.request",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("server.address", req.URL.Host),
					attribute.String("url.path", req.URL.Path),
				),
			)
			defer span.End()

			out := req.Clone(ctx)
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

			resp, err := next.RoundTrip(out)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return resp, err
			}
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			if resp.StatusCode >= 500 {
				span.SetStatus(codes.Error, resp.Status)
			}
			return resp, nil
		})
	}
}

// Recorder 记录每次往返的指标.
type Recorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64)
}

// MetricsMiddleware 收集请求耗时与状态码；传输错误以状态码 0 记录.
func MetricsMiddleware(recorder Recorder) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)

			status := 0
			var respSize int64
			if resp != nil {
				status = resp.StatusCode
				respSize = resp.ContentLength
			}
			recorder.RecordHTTPRequest(req.Method, req.URL.Path, status, time.Since(start), req.ContentLength, respSize)
			return resp, err
		})
	}
}
