// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供智能体共享的 get-or-compute 缓存，支持内存与 Redis 两种后端。

# 概述

缓存是独立于工作流引擎的共享组件，智能体在构造时获得 Manager，
通过 GetOrCompute(key, ttl, compute) 读取或计算结果，
不在智能体内部保存隐式的全局缓存状态。

# 核心类型

  - Manager：缓存管理器，负责 JSON 编解码、命中统计，
    并通过 singleflight 合并同一键的并发计算。
  - Backend：存储后端接口，提供 Get/Set/Delete/Ping/Close。
  - MemoryBackend：进程内后端，过期条目在读取时惰性清除。
  - RedisBackend：基于 go-redis 的后端，支持键前缀、连接池与后台健康检查。
  - Config：缓存配置，包含后端类型、默认 TTL 与 Redis 参数。

# 错误语义

  - ErrCacheMiss：未命中哨兵错误，IsCacheMiss 用于判断。
  - ErrClosed：后端已关闭。
  - 后端读写失败时降级为直接计算，仅记录告警日志；计算失败不会被缓存。
*/
package cache
