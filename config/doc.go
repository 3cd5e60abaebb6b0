// Package config 提供 LLMRelay 的配置加载。
//
// 配置按 默认值 → YAML 文件 → 环境变量（LLMRELAY_ 前缀）的顺序合并，
// 模型与提供商列表只从 YAML 文件读取，加载后在进程生命周期内只读。
package config
