// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package testutil 提供推理网关测试的共享工具和辅助函数。

# 概述

testutil 包为编排器、HTTP 处理器与命令行的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 事件收集: RecordingSink 记录编排器输出的事件，可模拟客户端断开
  - SSE 解析: ParseSSE 把 text/event-stream 响应体拆成事件
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual
  - 流辅助: SendDeltas / CollectDeltas

# 子包

  - testutil/mocks: MockUpstream，支持 Builder 模式、延迟与错误注入
  - testutil/fixtures: 网关请求与上游流式增量样例

# 使用示例

	up := mocks.NewMockUpstream().
		WithResponse("summary").
		WithDeltas(fixtures.TaggedDeltas("think", "answer", 5)...)
	sink := testutil.NewRecordingSink()
*/
package testutil
