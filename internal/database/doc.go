// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库接入：驱动选择、连接池管理、
健康检查与事务重试。

# 概述

Config 描述驱动（postgres / mysql / sqlite）与 DSN，Open 据此选择
dialector 并返回 PoolManager。sqlite 使用纯 Go 的 glebarez 驱动，
无需 cgo，适合单机部署与测试。

# 核心类型

  - Config：驱动、DSN 与连接池配置。
  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 健康检查：后台定时 PingContext 探活，Close 时退出。
  - 事务管理：WithTransaction 单次执行，WithTransactionRetry 复用
    internal/retry 的退避策略处理死锁、序列化失败等可重试错误。
*/
package database
