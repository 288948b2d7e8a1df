// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供工作流定义与 DAG 执行引擎。

# 概述

工作流定义（Definition）是一组有序步骤（Step），每个步骤绑定一个已注册的
智能体，并声明依赖、是否可并行、超时、重试上限与是否可选。定义在加载时
校验：步骤名唯一、依赖存在、无环、智能体已注册。校验失败不会创建任何运行。

# 核心类型

  - Definition / Step — 工作流与步骤的静态定义，支持 YAML / JSON 文件
  - Catalog           — 按名称管理已加载的定义，SelectForRole 按职级挑选默认工作流
  - Engine            — DAG 执行引擎：Submit / Run / Wait / Status / Resume / Cancel
  - Recorder          — 运行与步骤指标回调，由 internal/metrics 实现

# 调度规则

  - 依赖全部成功（或失败的可选步骤）后步骤才就绪
  - 就绪的可并行步骤优先派发，同时在途数不超过 MaxConcurrency
  - 不可并行的步骤按声明顺序、在没有其他在途步骤时独占执行
  - 依赖失败或被跳过的步骤记为 skipped（BLOCKED），并向下游级联
  - 瞬时错误（TIMEOUT / RATE_LIMITED / UPSTREAM_UNAVAILABLE）按指数退避重试
  - 每次状态变化都先经 persistence.Manager 落盘；落盘失败则停止派发，
    等在途步骤结束后返回 STATE_PERSISTENCE_FAILURE

# 消息协议

引擎以 "engine" 身份向步骤绑定的智能体发布 request 消息，correlation ID
即运行 ID；智能体通过 agent.Attach 订阅并回复 response。处理失败由总线以
error 消息回报。超时后到达的回复被忽略。
*/
package workflow
