// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
Package cache 提供对 LLM HTTP 响应的透明缓存，包括以字节流方式下发的响应。

# 概述

Transport 实现 http.RoundTripper，拦截发往模型 API 的 POST 请求：
以 URL、请求体和认证方案派生缓存键，命中且未过期时直接重建响应，
不发起网络请求；未命中时经重试执行器转发，把 2xx 响应体替换为
边读边录的 tee 读取器，调用方读完（或关闭）时在后台写入存储。

# 核心接口

  - Store：Get/Set/Keys 三个操作的存储接口，核心只依赖它。
  - Pruner：可选的过期清理能力，启动清理时使用。
  - Record：缓存记录，JSON 字段 statusCode/reasonPhrase/content/
    contentType/headers/cachedAt/expiresAt。
  - MemoryStore / RedisStore / SQLStore：三种存储后端。

# 行为约定

  - 仅 POST 参与缓存；关闭缓存或非 POST 请求完全不触碰存储。
  - 过期记录读取时视为未命中，但不删除，由新写入覆盖。
  - 写入通过单个信号量串行化（可切换为按键分片锁）。
  - 关闭响应体最多等待 FlushTimeout，从不返回缓存错误。
  - 缓存子系统的任何失败只记录 warn 日志，请求按未命中直接转发。
  - 相同请求并发时不合并，各自访问网络、各自写入。

# 使用方式

	store := cache.NewMemoryStore(cache.MemoryLimits{MaxItems: 10000})
	t := cache.NewTransport(http.DefaultTransport, store, cache.DefaultOptions(), logger)
	defer t.Close()
	client := &http.Client{Transport: t}
*/
package cache
