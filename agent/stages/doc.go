// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package stages 实现求职申请流水线中的六类智能体。

每个阶段都嵌入 agent.Base，因此自动获得 panic 恢复、调用统计与日志。
阶段之间不直接调用：引擎把上游步骤的输出放进 input["upstream"]，
阶段按输出中的 "stage" 标记查找需要的上游结果。

  - Research    — 通过 Fetcher 获取公司资料，按 company+role 缓存
  - Scoring     — 关键词评分表打分，给出推荐等级与主要差距
  - Positioning — 按 职级_行业 → 职级 → 行业 → default 选择定位策略
  - Content     — 调用 Generator 生成简历与求职信，统计 token
  - QA          — 检查内容非空、未填充占位符
  - Export      — 把最终结果交给 Exporter，返回外部引用

步骤参数（params）优先于工作流参数，工作流参数优先于 Config。
*/
package stages
