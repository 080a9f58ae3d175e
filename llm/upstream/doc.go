// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package upstream 提供 OpenAI 兼容上游的 HTTP 客户端。

# 核心能力

  - Complete：非流式调用，返回 choices[0].message.content
  - StreamDeltas：流式调用，把 SSE data 行解析为 Delta（content 与
    reasoning_content/reasoning）
  - Ping：探测上游根路径，状态码低于 500 即视为健康

# 重试

建立连接阶段对传输错误与 502/503/504 按指数退避重试；流一旦开始读取
便不再重试。最终错误统一转换为 types.Error。
*/
package upstream
