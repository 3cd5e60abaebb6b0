// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
包 database 为 SQL 缓存后端提供基于 GORM 的数据库连接与连接池管理。

# 概述

Open 按驱动名（sqlite / postgres / mysql）选择方言并打开连接，
PoolManager 统一管理连接池参数、后台健康检查与关闭。sqlite 使用
纯 Go 实现，无需 cgo。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、GetStats()、Close()。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期、
    空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
*/
package database
