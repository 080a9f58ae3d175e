// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

// Package config 提供推理网关的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → GATEWAY_* 环境变量 的顺序叠加，
// 时长字段既接受 "500ms" 也接受按秒计的纯数字。
// Reloader 监听配置文件，运行时只应用 models 段的变更。
package config
