// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

// Package telemetry 初始化 OpenTelemetry 的 TracerProvider 与 MeterProvider，
// 通过 OTLP gRPC 导出编排器与上游调用的 span。
// 禁用时保持全局 noop 实现，不连接任何外部服务。
package telemetry
