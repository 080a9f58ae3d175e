// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
包 metrics 提供网关的 Prometheus 指标采集。

Collector 通过 promauto 注册指标，按 namespace 隔离，覆盖：

  - HTTP 请求数、延迟与请求/响应大小
  - 上游调用（stream、complete、health）的次数与延迟
  - 会话结果、时长、摘要状态、输出片段数与推理字符数
  - 摘要缓存命中率
  - 会话账本数据库的连接数与写入耗时

Collector 实现 gateway.Observer，会话结束后由编排器回调。
*/
package metrics
