// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
包 middleware 提供出站 HTTP 往返的中间件链，在请求发送到上游模型服务
之前和响应返回之后插入可组合的横切逻辑。

# 核心类型

  - Middleware：func(http.RoundTripper) http.RoundTripper。
  - RoundTripperFunc：让普通函数实现 http.RoundTripper。
  - Chain：中间件链，支持 Use / Then 组合，第一个中间件最外层。
  - Recorder：MetricsMiddleware 依赖的指标接口。

# 内置中间件

  - LoggingMiddleware：zap 记录方法、路径、状态码、耗时与请求 ID。
  - RequestIDMiddleware：缺失时生成 X-Request-ID（uuid）。
  - HeadersMiddleware：固定请求头（User-Agent、认证头等）。
  - TimeoutMiddleware：请求级超时，覆盖到响应体关闭。
  - RateLimitMiddleware：x/time/rate 阻塞等待。
  - RecoveryMiddleware：panic 转为 *PanicError。
  - TracingMiddleware：OpenTelemetry span 与追踪头注入。
  - MetricsMiddleware：记录耗时、状态码与请求/响应大小。

所有中间件都不修改调用方传入的请求，需要改写时先 Clone。
*/
package middleware
