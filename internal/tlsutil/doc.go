// Copyright (c) Aura Authors.
// Licensed under the MIT License.

// Package tlsutil 集中 TLS 设置：API 端口的 HTTPS 监听（证书文件更新后无需重启）
// 与连接上游语音服务的 websocket 客户端。两端都限定 TLS 1.2+ 与 AEAD 套件。
package tlsutil
