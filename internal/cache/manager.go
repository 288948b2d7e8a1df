// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/careerflow/types"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Backend 缓存存储后端
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Recorder 接收缓存命中指标
type Recorder interface {
	RecordCacheLookup(hit bool)
}

// ComputeFunc 缓存未命中时计算值
type ComputeFunc func(ctx context.Context) (types.Payload, error)

// Manager is the shared get-or-compute cache used by agents. Concurrent
// misses on one key run compute once. Values round-trip through JSON, so
// numbers read back from the cache are float64.
type Manager struct {
	backend    Backend
	defaultTTL time.Duration
	group      singleflight.Group
	logger     *zap.Logger
	recorder   Recorder

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option 配置 Manager
type Option func(*Manager)

// WithDefaultTTL 设置默认过期时间
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager 创建缓存管理器
func NewManager(backend Backend, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		backend:    backend,
		defaultTTL: 5 * time.Minute,
		logger:     logger.With(zap.String("component", "cache")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// GetOrCompute returns the cached value for key, or runs compute, stores the
// result for ttl and returns it. hit reports whether the value came from the
// backend. Compute errors are returned and never cached. Backend failures
// degrade to computing without the cache.
func (m *Manager) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (value types.Payload, hit bool, err error) {
	if v, ok := m.lookup(ctx, key); ok {
		return v, true, nil
	}

	res, err, _ := m.group.Do(key, func() (any, error) {
		if v, err := m.Get(ctx, key); err == nil {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.store(ctx, key, v, ttl)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.(types.Payload).Clone(), false, nil
}

// Get 读取缓存值
func (m *Manager) Get(ctx context.Context, key string) (types.Payload, error) {
	raw, err := m.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v types.Payload
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return v, nil
}

// Set 写入缓存值，ttl 为 0 时使用默认过期时间
func (m *Manager) Set(ctx context.Context, key string, value types.Payload, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return m.backend.Set(ctx, key, data, ttl)
}

// Delete 删除缓存值
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.backend.Delete(ctx, keys...)
}

// Ping 检查后端连接
func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	return m.backend.Close()
}

func (m *Manager) lookup(ctx context.Context, key string) (types.Payload, bool) {
	v, err := m.Get(ctx, key)
	switch {
	case err == nil:
		m.hits.Add(1)
		m.record(true)
		return v, true
	case IsCacheMiss(err):
	default:
		m.logger.Warn("cache read failed, computing", zap.String("key", key), zap.Error(err))
	}
	m.misses.Add(1)
	m.record(false)
	return nil, false
}

func (m *Manager) store(ctx context.Context, key string, v types.Payload, ttl time.Duration) {
	if err := m.Set(ctx, key, v, ttl); err != nil {
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) record(hit bool) {
	if m.recorder != nil {
		m.recorder.RecordCacheLookup(hit)
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats 缓存统计信息
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// GetStats 获取缓存统计信息
func (m *Manager) GetStats() Stats {
	s := Stats{Hits: m.hits.Load(), Misses: m.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var (
	// ErrCacheMiss 缓存未命中错误
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 后端已关闭
	ErrClosed = errors.New("cache backend is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
