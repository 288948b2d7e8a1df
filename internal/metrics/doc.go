// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的编排指标采集能力，覆盖
工作流、Agent、缓存与消息总线四大维度。

# 概述

Collector 通过 promauto.With 在给定 Registerer 上注册全部指标，
所有指标按 namespace 隔离。Collector 同时实现 workflow.Recorder、
agent.Recorder、cache.Recorder 与 bus.Recorder，由 cmd/careerflow
在装配时注入各组件。

# 主要能力

  - 工作流指标：运行总数与耗时（按 workflow/status），步骤总数、
    耗时与尝试次数（按 workflow/step）。
  - Agent 指标：调用总数（按 agent/success/error_kind）与调用耗时。
  - 缓存指标：查找次数，按 hit/miss 分组。
  - 总线指标：发布数（按 kind）、邮箱满丢弃数与处理器错误数（按订阅者）。
*/
package metrics
