// Copyright (c) Aura Authors.
// Licensed under the MIT License.

// Package api 定义 Aura HTTP API 的请求与响应结构。
//
// 所有 JSON 接口使用统一信封：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// 错误时 success 为 false，error 字段携带 code、message 与 retryable。
//
// # 路由
//
//	GET  /health /healthz /ready /version
//	GET  /api/v1/session                   会话状态
//	GET  /api/v1/session/history           最近 20 个分数点
//	POST /api/v1/session/reset             清空分数与历史
//	POST /api/v1/session/events            注入一条语音事件
//	GET  /api/v1/tasks                     任务列表
//	POST /api/v1/tasks                     新增任务
//	POST /api/v1/tasks/{id}/{action}       postpone/complete/cancel/delegate
//	GET  /api/v1/intervention              当前干预
//	POST /api/v1/intervention/clear        用户关闭干预
//	GET  /ws/session                       语音事件 websocket
//
// # 认证
//
// 配置了 API Key 时通过 X-API-Key 头传入；配置了 JWT 时使用
// Authorization: Bearer <token>。
package api
