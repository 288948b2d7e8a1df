package workflow

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/internal/retry"
	"github.com/BaSui01/careerflow/types"
)

// MetricAttempts is the step metric holding the number of dispatches.
const MetricAttempts = "attempts"

// runStep dispatches s until it succeeds, fails permanently, exhausts its
// retries or the run is cancelled, and returns the terminal result.
func (e *Engine) runStep(ctx context.Context, ex *execution, s Step, input types.Payload, prior int, started time.Time) persistence.StepResult {
	ctx, span := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("run.id", ex.runID),
		attribute.String("step.name", s.Name),
		attribute.String("agent.name", s.Agent),
	))
	defer span.End()

	logger := e.logger.With(
		zap.String("run_id", ex.runID),
		zap.String("step", s.Name),
		zap.String("agent", s.Agent))

	policy := e.cfg.Retry
	if s.MaxRetries != nil {
		policy.MaxRetries = *s.MaxRetries
	}
	timeout := ex.def.TimeoutFor(s, e.cfg.DefaultStepTimeout)

	// 取消开始后不再重试进行中的步骤
	retryable := func(err error) bool {
		return !ex.cancelRequested() && retry.Transient(err)
	}

	var last agent.Result
	attempts, err := retry.Do(ctx, policy, retryable, logger, func(ctx context.Context, attempt int) error {
		res, err := e.dispatch(ctx, ex.runID, s, input, prior+attempt, timeout)
		if err == nil {
			last = res
			err = res.Err()
		}
		if err != nil {
			logger.Warn("step attempt failed",
				zap.Int("attempt", prior+attempt),
				zap.Error(err))
		}
		return err
	})

	completed := time.Now().UTC()
	res := persistence.StepResult{
		Attempts:    prior + attempts,
		Optional:    s.Optional,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	metrics := last.WithMetric(MetricAttempts, res.Attempts).Metrics
	span.SetAttributes(attribute.Int("step.attempts", res.Attempts))

	if err == nil {
		res.Status = persistence.StepStatusSuccess
		res.Output = last.Data
		res.Metrics = metrics
		logger.Debug("step succeeded",
			zap.Int("attempts", res.Attempts),
			zap.Duration("duration", completed.Sub(started)))
		return res
	}

	kind := types.GetErrorCode(err)
	detail := err.Error()
	var typed *types.Error
	if errors.As(err, &typed) {
		detail = typed.Message
	}
	if kind == "" {
		kind = types.ErrInternalError
		if errors.Is(err, context.Canceled) {
			kind = types.ErrCancelled
		}
	}

	res.Status = persistence.StepStatusFailed
	res.ErrorKind = kind
	res.ErrorDetail = detail
	res.Metrics = metrics

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	logger.Warn("step failed",
		zap.String("error_kind", string(kind)),
		zap.Int("attempts", res.Attempts),
		zap.Bool("optional", s.Optional))
	return res
}

// dispatch publishes one request for s and waits for the matching response
// or bus error report. The waiter is registered before publishing and
// dropped when the attempt ends, so a reply that arrives after the timeout
// is never attributed to this or any later attempt.
func (e *Engine) dispatch(ctx context.Context, runID string, s Step, input types.Payload, attempt int, timeout time.Duration) (agent.Result, error) {
	req := bus.NewMessage(EngineSender, s.Agent, bus.KindRequest, runID, types.Payload{
		agent.KeyStep:      s.Name,
		agent.KeyAttempt:   attempt,
		agent.KeyTimeoutMS: timeout.Milliseconds(),
		agent.KeyInput:     input,
	})

	w, err := e.bus.Expect(EngineSender, func(m bus.Message) bool {
		if m.CorrelationID != runID {
			return false
		}
		switch m.Kind {
		case bus.KindResponse:
			return m.Payload.String(agent.KeyRequestID) == req.ID
		case bus.KindError:
			return m.Payload.String(bus.KeyOriginalMessageID) == req.ID
		default:
			return false
		}
	})
	if err != nil {
		return agent.Result{}, types.NewError(types.ErrCancelled, "message bus unavailable").WithCause(err)
	}
	defer w.Cancel()

	if err := e.bus.Publish(req); err != nil {
		return agent.Result{}, types.NewError(types.ErrCancelled, "message bus unavailable").WithCause(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := w.Wait(waitCtx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return agent.Result{}, types.Errorf(types.ErrTimeout, "agent %s did not answer within %s", s.Agent, timeout)
	default:
		return agent.Result{}, types.NewError(types.ErrCancelled, "dispatch aborted").WithCause(err)
	}

	if msg.Kind == bus.KindError {
		return agent.Result{}, types.Errorf(types.ErrUpstreamUnavailable, "agent %s: %s", s.Agent, msg.Payload.String(bus.KeyError))
	}
	return agent.ResultFromPayload(msg.Payload.Map(agent.KeyResult))
}
