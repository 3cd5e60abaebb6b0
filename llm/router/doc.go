// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
Package router 负责 Provider 解析与成本计算。

Resolver 根据 Criteria 对模型配置中的 Provider 与 Sub-provider 做过滤
（包含/排除名单、必需标签、成本上限）和排序（成本、偏好标签、优先级、
可靠性等级），输出可按顺序故障转移的 Resolution 列表。没有候选时返回
types.ErrNoEligibleProvider，绝不静默回退到默认 Provider。

TotalCost 与 Compare 实现线性的每百万 token 计费模型。
*/
package router
