// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package handlers 提供推理网关 HTTP API 的请求处理器实现。

# 核心类型

  - ChatHandler：/v1/chat/completions（SSE）与 /v1/chat/ws（WebSocket）
  - HealthHandler：/healthz、/upstream-health、/ready、/version
  - SessionHandler：/v1/sessions/{request_id} 会话报告查询
  - Response：统一 JSON 响应结构（success + data + error + timestamp）

聊天路由的策略拒绝沿用 {"detail": ...} 响应体，其余错误使用 Response。
*/
package handlers
