// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
Package reasoning 提供推理/答案分离所需的流式标签解析与推理文本累积。

# 概述

上游模型被要求把推理写在 <analysis>...</analysis>，把答案写在
<final>...</final>。TagParser 按任意切分的片段增量解析，保证：

  - 标签标记永不出现在输出中，即使跨片段切分
  - 片段切分方式不影响拼接后的 analysis/final 文本
  - 不会输出空片段，也不会切断 UTF-8 字符

# 核心类型

  - TagParser：状态机 unknown → in_analysis → in_final → done
  - Outcome：单次 Feed/Finalize 的产出
  - Accumulator：并发安全的推理文本缓冲，读取时按字符数截断
*/
package reasoning
