// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
Package pipeline 把 Provider 解析、重试、响应缓存与出站中间件组装成
一条完整的请求管线。

请求路径：

	middleware.Chain → cache.Transport → retry.Executor → 上游 Transport

Pipeline.Do 先用 router.Resolver 得到有序候选，再对每个候选调用调用方
提供的 RequestBuilder 构造请求（线上 JSON 格式由调用方负责），发送失败
（重试耗尽的瞬时错误、429、5xx）时切换到下一个候选；除 429 以外的 4xx
立即返回。FromConfig 根据 config.Config 构造存储后端、指标与遥测。
*/
package pipeline
