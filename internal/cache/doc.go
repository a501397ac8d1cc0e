// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，供会话快照的最新值与滚动历史使用。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 GetJSON/SetJSON/Delete，以及 Record/Range 两个列表操作。
  - Config：地址、密码、键前缀、连接池大小、默认 TTL 与建连超时。

# 主要能力

  - Record：一个 MULTI 事务里写入最新值、压入历史并裁剪到定长。
  - 健康检查：Ping 直接挂到 /ready 的检查列表上。
  - 错误语义：ErrCacheMiss 与 IsCacheMiss，关闭后返回 ErrClosed。
*/
package cache
