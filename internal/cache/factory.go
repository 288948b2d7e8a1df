package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BackendType 缓存后端类型
type BackendType string

const (
	BackendMemory BackendType = "memory"
	BackendRedis  BackendType = "redis"
)

// Config 缓存配置
type Config struct {
	// 后端类型：memory 或 redis
	Type BackendType `yaml:"type" json:"type" env:"TYPE"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`

	// Redis 后端配置
	Redis RedisConfig `yaml:"redis" json:"redis" env:"REDIS"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:       BackendMemory,
		DefaultTTL: 24 * time.Hour,
		Redis:      DefaultRedisConfig(),
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch c.Type {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown cache type %q", c.Type)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("cache default_ttl must not be negative")
	}
	if c.Type == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("cache redis addr is required")
	}
	return nil
}

// New 根据配置创建缓存管理器
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var backend Backend
	switch cfg.Type {
	case BackendRedis:
		b, err := NewRedisBackend(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = NewMemoryBackend()
	}

	opts = append([]Option{WithDefaultTTL(cfg.DefaultTTL)}, opts...)
	return NewManager(backend, logger, opts...), nil
}
