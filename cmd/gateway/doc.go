// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package main 提供推理网关的程序入口。

# 概述

cmd/gateway 启动流式推理网关：接收 OpenAI 兼容的对话请求，把上游模型
的推理内容与最终回答拆开，依次推送提示摘要、推理摘要和回答增量。

# 核心类型

  - Server：组装上游客户端、编排器、缓存、会话账本与 HTTP 服务
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusWriter：捕获状态码，保留 Flush / Hijack 以支持 SSE 与 WebSocket

# 子命令

  - serve          启动网关（API 端口与独立的 /metrics 端口）
  - chat           命令行客户端，按三段格式打印事件
  - mock-upstream  启动脚本化的上游服务，便于本地联调
  - health         探测 /healthz，加 --upstream 时探测 /ready
  - version        打印构建信息

# 中间件链

Recovery、RequestID、OTelTracing、Metrics、SecurityHeaders、
RequestLogger、CORS，之后按配置追加 APIKeyAuth、JWTAuth 与 RateLimiter。
探针路径不做认证。

# 关闭顺序

停止配置监听，关闭 API 服务器（超时后取消在途会话），
再关闭 Metrics 服务器、Redis、数据库，最后刷新遥测数据。
*/
package main
