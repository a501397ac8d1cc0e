// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Aura HTTP API 的请求处理器。

# 核心类型

  - SessionHandler：会话状态、历史、重置、事件注入、任务、干预与
    /ws/session 语音连接
  - HealthHandler：/health、/healthz、/ready、/version
  - Response / ErrorInfo：统一 JSON 信封
  - ResponseWriter：捕获状态码的包装器

# 错误处理

WriteError 接受任意 error。*types.Error 按错误码映射 HTTP 状态，
其余错误统一返回 500 且不暴露内部细节。DecodeJSONBody 限制请求体
1MB 并拒绝未知字段。
*/
package handlers
