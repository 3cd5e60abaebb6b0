// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 LLMRelay 的上游请求 span 提供 TracerProvider 与 MeterProvider。
// 遥测关闭时使用 noop 实现，不连接任何外部服务。
package telemetry
