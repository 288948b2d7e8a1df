// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 careerflow 命令行程序入口。

# 概述

cmd/careerflow 在单个进程内装配配置、日志、遥测、Prometheus 指标、消息总线、
运行状态存储、调研缓存、六个阶段智能体与工作流引擎，执行一条命令后退出。
运行状态通过 file / redis / sql 存储跨进程保留，因此 status、list、resume
可以作用于之前提交的运行。

# 子命令

  - submit   — 提交职位输入（--job 文件或 --set key=value），--workflow auto 按职级选择，
    score_only 只做调研与评分
  - batch    — 每个职位文件（或列表文件中的每一项）独立运行，--parallel 限制同时进行的运行数
  - status   — 输出运行摘要；终态时包含聚合输出或失败摘要
  - resume   — 从第一个未完成步骤继续运行
  - list     — 按工作流、状态、时间过滤列出运行
  - validate — 校验配置、工作流目录与额外的定义文件
  - version  — 构建信息，Version / BuildTime / GitCommit 通过 ldflags 注入

# 退出码

  - 0 成功
  - 1 运行失败或被取消
  - 2 调用无效：参数、配置、工作流定义或运行 ID 有误
  - 3 其他错误，例如状态存储不可用
*/
package main
