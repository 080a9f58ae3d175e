// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
包 server 管理网关 HTTP 服务器的生命周期。

Manager 封装 net/http.Server：Start 在后台监听，Errors 传出异步的
服务异常，WaitForShutdown 等待 SIGINT/SIGTERM，Shutdown 在超时内
排空请求。SSE 与 WebSocket 会话是长连接，超时后 Manager 取消所有
请求共享的 base context 并强制关闭连接，编排器据此结束会话。

ConfigFrom 与 MetricsConfigFrom 从 config.ServerConfig 构造 API
服务器与 /metrics 服务器的配置。
*/
package server
