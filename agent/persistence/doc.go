// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供工作流运行记录（Run）的持久化存储与状态管理。

# 概述

每个 Run 以运行 ID 为键存为一条记录，包含工作流名称、整体状态、
按步骤名索引的 StepResult（状态、输出或错误、起止时间、尝试次数）
以及创建/更新时间。RunStore.Update 是原子的"读取-合并-写回"：
同一 Run 不同步骤的并发更新互不覆盖，已终结的步骤结果不会被改写。

# 核心接口

  - RunStore: Create / Get / Update / List，外加 Close 与 Ping。
  - Manager: 引擎使用的状态管理器，按 Run 串行化写入，
    并把存储错误映射为 DUPLICATE_RUN、RUN_NOT_FOUND、
    STATE_PERSISTENCE_FAILURE 等结构化错误。

# 状态机

	pending → running → completed | failed | cancelled
	running → cancelling → cancelled | failed

终态之间不再迁移；步骤状态为 pending → running → success | failed | skipped。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 每个 Run 一个 JSON 文件，临时文件 fsync 后 rename，适合单节点部署。
  - Redis: WATCH/MULTI 乐观合并，Sorted Set 按创建时间索引，适合多进程部署。
  - SQL: gorm + version 列做 CAS，支持 postgres、mysql、sqlite。

# 使用方式

	mgr, err := persistence.NewManagerFromConfig(cfg.Store, logger)
	run := persistence.NewRun(id, def.Name, def.Version, input, def.StepNames())
	err = mgr.Create(ctx, run)
	_, err = mgr.UpdateStep(ctx, id, "research", persistence.StepResult{Status: persistence.StepStatusSuccess})
*/
package persistence
