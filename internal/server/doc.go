// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
包 server 管理 HTTP 监听端口的生命周期：非阻塞启动、可选 HTTPS、
信号触发的优雅关闭。

Manager 的请求 context 派生自自身持有的根 context。Shutdown 先取消它，
被劫持的 websocket 连接因此能结束中继，再由 http.Server 排空普通请求。
配置了 CertFile 与 KeyFile 时使用 tlsutil 的加固 TLS 配置。
*/
package server
