// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的摘要缓存。

Manager 封装 go-redis 客户端，负责连接、健康检查与关闭；
SummaryCache 把 Manager 适配为 gateway.SummaryCache，
按提示词或推理文本的摘要键记住已生成的摘要。

Redis 不可用时查询按未命中处理，会话照常调用上游生成摘要。
*/
package cache
