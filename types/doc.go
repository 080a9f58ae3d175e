// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package types 提供网关的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 api、gateway、llm
等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - 请求类错误码：INVALID_REQUEST、MODEL_NOT_ALLOWED、RATE_LIMITED 等
  - 上游类错误码：UPSTREAM_ERROR、UPSTREAM_TIMEOUT、MALFORMED_RESPONSE、
    STREAM_CONSUMPTION

# 主要能力

  - 链式构造：NewError(...).WithCause(...).WithHTTPStatus(...)
  - 错误判定：IsRetryable / GetErrorCode / IsErrorCode（支持 errors.As 解包）
  - 常用构造：NewInvalidRequestError / NewTransportError /
    NewMalformedResponseError / NewStreamConsumptionError
  - 超时归一：WrapContextError 将 context.DeadlineExceeded 转为 UPSTREAM_TIMEOUT
*/
package types
