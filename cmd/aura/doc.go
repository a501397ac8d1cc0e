// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
Package main 提供 Aura 服务端程序入口。

# 概述

cmd/aura 持有一个语音陪伴会话，通过 HTTP API 与 websocket 中继对外暴露，
也可以主动连接配置的上游语音服务。程序支持 YAML 配置与环境变量覆盖、
结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪和配置文件热更新。

# 核心类型

  - Server      ：主服务器，管理会话、快照存储、HTTP 与 Metrics 双端口及优雅关闭
  - Middleware  ：HTTP 中间件函数签名 func(http.Handler) http.Handler
  - recorder    ：捕获状态码与响应大小，支持 websocket Hijack
  - AuthConfig  ：API Key 与 JWT（HS256/RS256）认证配置
  - voiceLink   ：上游语音连接，断开后指数退避重连

# 主要能力

  - 子命令（cobra）：serve、migrate（快照表迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、Tracing、Observe（访问日志与指标）、
    CORS、Auth、RateLimiter（按用户或 IP）
  - 快照同步：sql（gorm）、redis、mongo 可多选，并发写入
  - 配置热更新：fsnotify 监听配置文件，日志级别与评分标定即时生效
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
