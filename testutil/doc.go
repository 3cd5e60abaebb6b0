// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 LLMRelay 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor，轮询等待后台写入完成
  - 数据工具: MustJSON / ReadAllString / FakeClock

# 子包

  - testutil/mocks: MockTransport（记录请求、按脚本返回响应或错误）、
    MockStore（带调用计数与错误注入的缓存存储）
  - testutil/fixtures: 模型配置、Anthropic /v1/messages 请求体与 SSE 流样例

# 使用示例

	ctx := testutil.TestContext(t)
	upstream := mocks.NewMockTransport().WithBody(200, fixtures.MessagesSSE)
	client := &http.Client{Transport: cache.NewTransport(upstream, store, opts, logger)}
*/
package testutil
