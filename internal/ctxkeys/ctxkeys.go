// Package ctxkeys carries the run identity of a step through context so
// agents log with the same run_id / step / attempt fields as the engine.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey   contextKey = "run_id"
	stepKey    contextKey = "step"
	attemptKey contextKey = "attempt"
)

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithStep 设置当前步骤名
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey, step)
}

// Step 获取当前步骤名
func Step(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stepKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAttempt 设置当前尝试次数（从 1 开始）
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey, attempt)
}

// Attempt 获取当前尝试次数
func Attempt(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// LogFields returns the identifiers present in ctx as zap fields.
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", id))
	}
	if step, ok := Step(ctx); ok {
		fields = append(fields, zap.String("step", step))
	}
	if n, ok := Attempt(ctx); ok {
		fields = append(fields, zap.Int("attempt", n))
	}
	return fields
}
