// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
Package types 提供 Aura 各模块共享的基础类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 companion、api、cmd
等上层模块提供统一的错误码和 Context 传播约定，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码与 Retryable 标记
  - WithSessionID / WithUserID / WithRequestID：Context 传播
*/
package types
