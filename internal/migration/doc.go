// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
包 migration 管理快照存储的数据库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

各方言的 SQL 迁移通过 embed 内嵌，维护 session_snapshots 表及其索引，
表结构与 companion/snapshot 的 GormSink 记录对应。SQLite 使用与
internal/database 相同的纯 Go 驱动，无需 cgo。

  - SchemaMigrator：Migrator 的实现。ctx 取消时在当前迁移完成后停止，
    过程日志输出到 zap。EnsureLatest 供服务启动时自动迁移。
  - CLI：aura migrate 子命令的分发与表格输出。
  - URLFromDatabaseConfig：把应用的数据库配置转成迁移连接串。
*/
package migration
