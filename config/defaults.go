// =============================================================================
// 📦 careerflow 默认配置
// =============================================================================
package config

import (
	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/agent/stages"
	"github.com/BaSui01/careerflow/internal/cache"
	"github.com/BaSui01/careerflow/workflow"
)

// DefaultConfig 返回默认配置：内存存储、内存缓存、内置评分表与策略表
func DefaultConfig() *Config {
	return &Config{
		Engine:       workflow.DefaultConfig(),
		Store:        persistence.DefaultStoreConfig(),
		Cache:        cache.DefaultConfig(),
		Agents:       stages.DefaultConfig(),
		Bus:          DefaultBusConfig(),
		WorkflowsDir: "./workflows",
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Metrics:      DefaultMetricsConfig(),
	}
}

// DefaultBusConfig 返回默认消息总线配置
func DefaultBusConfig() BusConfig {
	return BusConfig{
		MailboxSize: bus.DefaultMailboxSize,
		HistorySize: bus.DefaultHistorySize,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "careerflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "careerflow"}
}
