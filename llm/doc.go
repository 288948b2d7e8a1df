// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package llm 定义内容生成所用的大模型抽象。

# 核心类型

  - Provider     — 统一的同步聊天接口，由 providers/openai 与 providers/anthropic 实现
  - ChatRequest  — 模型、消息、温度与最大 token
  - ChatResponse — 选项列表与 token 用量
  - Generator    — 把 Provider 适配为内容阶段的生成器，分别生成简历与求职信

# 错误

Provider 返回的错误都是 *types.Error：429 为 RATE_LIMITED，其他 4xx 为
INVALID_REQUEST，5xx 与网络错误为 UPSTREAM_UNAVAILABLE，无法解析的响应为
MALFORMED_RESPONSE。重试由内容阶段统一负责，Provider 本身不重试。
*/
package llm
