// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为工作流引擎提供
// 全局 TracerProvider 与 MeterProvider。引擎为每次运行和每个步骤创建 span。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
