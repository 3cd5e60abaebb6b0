// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
Package main 提供 llmrelay 命令行入口。

# 子命令

  - resolve  按条件解析模型的故障转移候选并显示估算成本
  - send     经完整管线（缓存、重试、故障转移）发送一个 JSON 请求，响应写到 stdout
  - cache    查看或清理响应缓存：keys、prune、stats
  - version  显示版本信息

配置来自 --config 指定的 YAML 文件与 LLMRELAY_ 前缀的环境变量。
构建时通过 ldflags 注入 Version、BuildTime、GitCommit。
*/
package main
