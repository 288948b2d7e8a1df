// Package config 提供 careerflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，各组件的配置结构
// （workflow.Config、persistence.StoreConfig、cache.Config、stages.Config）
// 直接嵌入 Config，由 Validate 统一校验并一次性报告全部问题。
package config
