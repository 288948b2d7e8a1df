// Package retry provides bounded exponential backoff shared by the engine's
// step-level retries and the content-generation collaborator.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/types"
)

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`       // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" env:"INITIAL_DELAY"` // 初始延迟时间
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" env:"MAX_DELAY"`             // 最大延迟时间
	Multiplier   float64       `yaml:"multiplier" json:"multiplier" env:"MULTIPLIER"`          // 指数退避倍增因子
	Jitter       bool          `yaml:"jitter" json:"jitter" env:"JITTER"`                      // 是否添加 ±25% 随机抖动
}

// DefaultPolicy returns 3 retries with 1s/2s/4s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Normalize fills zero or invalid fields with defaults.
func (p Policy) Normalize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(err error) bool

// Transient retries only errors whose code is transient.
func Transient(err error) bool {
	return types.IsRetryable(err)
}

// OnlyCode retries only errors carrying the given code.
func OnlyCode(code types.ErrorCode) Classifier {
	return func(err error) bool {
		return types.HasCode(err, code)
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. The returned count is the number of attempts made, including
// the first one.
func Do(ctx context.Context, p Policy, retryable Classifier, logger *zap.Logger, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.Normalize()
	if retryable == nil {
		retryable = Transient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempts, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		attempts++
		lastErr = fn(ctx, attempts)
		if lastErr == nil {
			if attempt > 0 {
				logger.Info("retry succeeded", zap.Int("attempts", attempts))
			}
			return attempts, nil
		}
		if !retryable(lastErr) {
			return attempts, lastErr
		}
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return attempts, lastErr
}
