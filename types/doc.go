// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
Package types 提供请求管线的全局共享错误类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。router、retry、cache、
pipeline 均通过这里的 Error / ErrorCode 对齐错误语义，调用方只需
errors.Is 即可区分解析失败、对象已关闭与上游错误。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - ErrNoEligibleProvider / ErrModelNotFound / ErrDisposed：按错误码匹配的哨兵

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用构造：NewNoEligibleProviderError / NewModelNotFoundError / NewDisposedError
*/
package types
