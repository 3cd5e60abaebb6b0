// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的请求管线指标采集。

# 概述

Collector 在独立的 Registry 上注册全部指标，按 namespace 隔离。
管线通过中间件、重试钩子与缓存事件回调把数据送入 Collector。

# 主要能力

  - HTTP 指标：上游往返总数、耗时、请求/响应体大小，
    状态码归类为 2xx/3xx/4xx/5xx，传输错误记为 unknown。
  - LLM 指标：按 provider/model 统计尝试次数、耗时、估算 Token 与成本。
  - 路由指标：无可用提供商次数、故障转移次数。
  - 重试指标：按第几次重试计数。
  - 缓存指标：hit/miss/bypass/write/write_error 事件计数。
*/
package metrics
