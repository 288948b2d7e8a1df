// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 careerflow 编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、workflow、
persistence 等上层模块提供统一的错误码与载荷类型，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，区分配置错误、瞬时错误与永久错误
  - Payload           — 无模式的键值载荷（消息、Agent 输入输出、步骤结果）

# 错误分类

  - 配置错误：MALFORMED_WORKFLOW、MISSING_AGENT，提交时立即失败
  - 瞬时错误：TIMEOUT、RATE_LIMITED、UPSTREAM_UNAVAILABLE，按退避策略重试
  - 永久错误：INVALID_INPUT、MALFORMED_RESPONSE 等，不重试
  - 持久化错误：STATE_PERSISTENCE_FAILURE，引擎停止派发并上报调用方
*/
package types
