// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、语音会话、
工具调用、会话快照与数据库连接池。

Collector 使用自己的 Registry（外加 Go 运行时与进程指标），
Handler 直接挂到指标端口的 /metrics。它同时实现 session.Recorder、
dispatch.Recorder 与 snapshot.Recorder，可直接注入各组件。

HTTP 状态码按 2xx/4xx 等归类；agent 给出的未知动作词收敛为有界标签，
超长或含空白的统一记为 other。
*/
package metrics
