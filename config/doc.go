// Copyright (c) Aura Authors.
// Licensed under the MIT License.

// Package config 提供 Aura 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AURA_* 环境变量 的顺序合并。
// Watcher 监听配置文件，变更后重新加载并回调，
// 服务进程用它在线调整日志级别和新会话的评分标定。
package config
