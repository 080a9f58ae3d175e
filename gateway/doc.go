// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package gateway 实现流式编排器：把一次对话请求转换为有序事件流。

# 概述

每个请求启动一个会话。会话并发运行三项工作：提示词摘要、主流消费、
推理摘要。对客户端的输出顺序固定：

	summary.prompt → summary.reasoning → output.delta* → [error] → output.done

推理摘要在推理段结束（或主流结束）时即开始，不必等待最终答案流完；
期间产生的最终答案片段进入无界队列，摘要发出后再按序排空。

# 核心类型

  - Orchestrator：会话入口，Stream 阻塞直到 output.done 或会话中止
  - Upstream：上游客户端抽象（Complete / StreamDeltas）
  - EventSink：事件接收方，返回错误即中止会话
  - SummaryCache：可选的摘要缓存
  - Observer / Report：会话结束后的报告回调

# 失败处理

  - 提示词摘要失败或超时：发出 error(prompt_summary)，继续
  - 推理摘要失败：发出 error(reasoning_summary)，随后空文本 summary.reasoning
  - 主流失败：已排队片段照常发出，然后 error(upstream_stream)
  - 客户端断开或 ctx 取消：停止全部后台工作，不再发送事件

# 可观测性

会话与摘要调用各有一个 OpenTelemetry span；阶段失败、会话数、
摘要耗时通过全局 Meter 记录。
*/
package gateway
