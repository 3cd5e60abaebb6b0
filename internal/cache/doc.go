// Copyright (c) LLMRelay Authors.
// Licensed under the MIT License.

/*
包 cache 管理响应缓存 Redis 后端所用的连接。

Manager 封装 go-redis 客户端：建立连接时 Ping 确认可用，后台定时
健康检查，Close 安全释放连接池。键值读写由 llm/cache.RedisStore
通过 Client() 完成。GetStats 解析 INFO 输出，供命令行展示。
*/
package cache
