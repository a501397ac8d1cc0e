// Copyright (c) Aura Authors.
// Licensed under the MIT License.

/*
包 database 打开会话快照使用的 SQL 数据库，并管理其连接池。

  - Open / Dialector：按驱动名（postgres / mysql / sqlite）打开 GORM 连接，
    sqlite 走纯 Go 驱动，不依赖 cgo。
  - Pool：应用连接池参数，定时探活并通过 OnStats 上报连接统计；
    Transact 在事务中执行写入，遇到死锁、序列化失败、断连时按指数退避重试。
*/
package database
