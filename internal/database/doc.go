// Copyright (c) Inference Gateway Authors.
// Licensed under the MIT License.

/*
包 database 提供会话账本使用的 GORM 连接与连接池管理。

# 核心类型

  - Open / Dialector：按 driver 选择 postgres、mysql 或纯 Go 的 sqlite。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Stats、Close，
    后台健康检查可把连接数上报给 StatsRecorder。
  - PoolConfig：连接池参数，PoolConfigFrom 从 config.DatabaseConfig 构造。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、
序列化失败、sqlite 锁冲突等瞬时错误做指数退避重试。
*/
package database
