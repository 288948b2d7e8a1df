package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/internal/ctxkeys"
	"github.com/BaSui01/careerflow/types"
)

// Metrics 智能体运行统计
type Metrics struct {
	Name        string        `json:"agent_name"`
	Processed   int64         `json:"tasks_processed"`
	Succeeded   int64         `json:"tasks_successful"`
	Failed      int64         `json:"tasks_failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_processing_time"`
	Uptime      time.Duration `json:"uptime"`
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithRecorder reports every call to r.
func WithRecorder(r Recorder) BaseOption {
	return func(b *Base) { b.recorder = r }
}

// WithHealthCheck installs a readiness probe.
func WithHealthCheck(fn func(ctx context.Context) error) BaseOption {
	return func(b *Base) { b.health = fn }
}

// Base wraps a ProcessFunc with panic recovery, call statistics and logging.
// Stage variants are built on it.
type Base struct {
	name     string
	fn       ProcessFunc
	logger   *zap.Logger
	recorder Recorder
	health   func(ctx context.Context) error
	started  time.Time

	processed  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	totalNanos atomic.Int64
}

// NewBase 创建基础智能体
func NewBase(name string, fn ProcessFunc, logger *zap.Logger, opts ...BaseOption) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Base{
		name:    name,
		fn:      fn,
		logger:  logger.With(zap.String("component", "agent"), zap.String("agent", name)),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name 返回智能体名称
func (b *Base) Name() string { return b.name }

// Logger 返回带有智能体字段的日志记录器
func (b *Base) Logger() *zap.Logger { return b.logger }

// Process runs the wrapped function on a private copy of input.
func (b *Base) Process(ctx context.Context, input types.Payload) (res Result) {
	start := time.Now()
	b.processed.Add(1)

	logger := b.logger.With(ctxkeys.LogFields(ctx)...)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent panicked", zap.Any("recover", r))
			res = Failed(types.ErrInternalError, fmt.Sprintf("agent panic: %v", r))
		}

		elapsed := time.Since(start)
		b.totalNanos.Add(int64(elapsed))
		if res.Success {
			b.succeeded.Add(1)
			logger.Debug("task completed", zap.Duration("duration", elapsed))
		} else {
			b.failed.Add(1)
			logger.Warn("task failed",
				zap.String("error_kind", string(res.ErrorKind)),
				zap.String("error_detail", res.ErrorDetail),
				zap.Duration("duration", elapsed),
			)
		}
		if b.recorder != nil {
			b.recorder.RecordAgentCall(b.name, res.Success, string(res.ErrorKind), elapsed.Seconds())
		}
		res = res.WithMetric("duration_ms", elapsed.Milliseconds())
	}()

	if err := ctx.Err(); err != nil {
		return FailedFromError(err)
	}
	if b.fn == nil {
		return Failed(types.ErrInternalError, "agent has no process function")
	}
	return b.fn(ctx, input.Clone())
}

// Metrics returns a snapshot of call statistics.
func (b *Base) Metrics() Metrics {
	processed := b.processed.Load()
	succeeded := b.succeeded.Load()
	m := Metrics{
		Name:      b.name,
		Processed: processed,
		Succeeded: succeeded,
		Failed:    b.failed.Load(),
		Uptime:    time.Since(b.started),
	}
	if processed > 0 {
		m.SuccessRate = float64(succeeded) / float64(processed) * 100
		m.AvgDuration = time.Duration(b.totalNanos.Load() / processed)
	}
	return m
}

// HealthCheck runs the configured probe; agents without one are always ready.
func (b *Base) HealthCheck(ctx context.Context) error {
	if b.health == nil {
		return nil
	}
	return b.health(ctx)
}
