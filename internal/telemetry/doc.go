// Copyright (c) Aura Authors.
// Licensed under the MIT License.

// Package telemetry 安装 OpenTelemetry SDK，为 HTTP 中间件与工具调用 span
// 提供全局 TracerProvider 与 MeterProvider。资源属性携带服务版本与伴侣变体。
// 未启用时不连接任何外部服务，全局 provider 保持 noop。
package telemetry
