// =============================================================================
// 📦 careerflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("careerflow.yaml").
//	    WithEnvPrefix("CAREERFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/agent/stages"
	"github.com/BaSui01/careerflow/internal/cache"
	"github.com/BaSui01/careerflow/types"
	"github.com/BaSui01/careerflow/workflow"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "CAREERFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 careerflow 的完整配置结构
type Config struct {
	// Engine 工作流引擎配置
	Engine workflow.Config `yaml:"engine" env:"ENGINE"`

	// Store 运行状态存储配置
	Store persistence.StoreConfig `yaml:"store" env:"STORE"`

	// Cache 调研结果缓存配置
	Cache cache.Config `yaml:"cache" env:"CACHE"`

	// Agents 各阶段智能体配置
	Agents stages.Config `yaml:"agents" env:"AGENTS"`

	// Bus 消息总线配置
	Bus BusConfig `yaml:"bus" env:"BUS"`

	// WorkflowsDir 工作流定义目录
	WorkflowsDir string `yaml:"workflows_dir" env:"WORKFLOWS_DIR"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// BusConfig 消息总线配置
type BusConfig struct {
	// 每个订阅者的邮箱容量
	MailboxSize int `yaml:"mailbox_size" env:"MAILBOX_SIZE"`
	// 历史环形缓冲容量
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 监听地址，为空时不暴露 /metrics
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量。最后执行 Validate 与自定义验证器。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "failed to load config from file").WithCause(err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "failed to load config from env").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "config validation failed").WithCause(err)
		}
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置。显式指定的文件必须存在。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", l.configPath, err)
	}
	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// =============================================================================
// 🔍 校验
// =============================================================================

// Validate collects every configuration problem into one INVALID_CONFIG
// error.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.MaxConcurrency < 1 {
		errs = append(errs, errors.New("engine.max_concurrency must be at least 1"))
	}
	if c.Engine.DefaultStepTimeout <= 0 {
		errs = append(errs, errors.New("engine.default_step_timeout must be positive"))
	}
	if c.Engine.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("engine.retry.max_retries must not be negative"))
	}

	switch c.Store.Type {
	case persistence.StoreTypeMemory, persistence.StoreTypeRedis:
	case persistence.StoreTypeFile:
		if strings.TrimSpace(c.Store.BaseDir) == "" {
			errs = append(errs, errors.New("store.base_dir is required for the file store"))
		}
	case persistence.StoreTypeSQL:
		if err := c.Store.Database.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("store.database: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}

	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Agents.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Bus.MailboxSize < 1 || c.Bus.HistorySize < 1 {
		errs = append(errs, errors.New("bus sizes must be positive"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
		}
	}

	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidConfig, "config validation errors").WithCause(errors.Join(errs...))
	}
	return nil
}
