// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

// Package ledger 把每个结束的会话报告写入数据库，
// 供 /v1/sessions/{request_id} 查询。
package ledger
