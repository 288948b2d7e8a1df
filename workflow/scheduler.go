package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/types"
)

type stepOutcome struct {
	step      string
	result    persistence.StepResult
	exclusive bool
}

// runState is the scheduler's view of one run. It is owned by the run's
// scheduling goroutine and mirrors what has been persisted.
type runState struct {
	def     *Definition
	input   types.Payload
	steps   map[string]persistence.StepResult
	outputs map[string]types.Payload
}

func newRunState(def *Definition, run *persistence.Run) *runState {
	rs := &runState{
		def:     def,
		input:   run.Input,
		steps:   make(map[string]persistence.StepResult, len(run.Steps)),
		outputs: make(map[string]types.Payload),
	}
	for name, st := range run.Steps {
		rs.record(name, st)
	}
	return rs
}

func (rs *runState) record(name string, st persistence.StepResult) {
	rs.steps[name] = st
	if st.Status == persistence.StepStatusSuccess {
		rs.outputs[name] = st.Output
	}
}

// satisfied: success, or a failed optional step.
func (rs *runState) satisfied(dep string) bool {
	st := rs.steps[dep]
	switch st.Status {
	case persistence.StepStatusSuccess:
		return true
	case persistence.StepStatusFailed:
		s, _ := rs.def.Step(dep)
		return s.Optional
	default:
		return false
	}
}

func (rs *runState) ready(s Step) bool {
	if rs.steps[s.Name].Status != persistence.StepStatusPending {
		return false
	}
	for _, dep := range s.DependsOn {
		if !rs.satisfied(dep) {
			return false
		}
	}
	return true
}

// inputFor assembles the payload for s: the job input, workflow params, step
// params and the outputs of its prerequisites.
func (rs *runState) inputFor(runID string, s Step) types.Payload {
	upstream := make(types.Payload, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		if out, ok := rs.outputs[dep]; ok {
			upstream[dep] = out.Clone()
		}
	}
	return types.Payload{
		agent.InputRunID:    runID,
		agent.InputStep:     s.Name,
		agent.InputJob:      rs.input.Clone(),
		agent.InputWorkflow: rs.def.Params.Clone(),
		agent.InputParams:   s.Params.Clone(),
		agent.InputUpstream: upstream,
	}
}

// execute drives one run to a terminal status. Parallel steps that are
// ready are dispatched first, up to MaxConcurrency; a step that is not
// parallel-eligible runs alone once nothing else is in flight. Every step
// transition is persisted before the scheduler acts on it. A persistence
// failure stops further dispatch, drains in-flight steps and is returned.
func (e *Engine) execute(ex *execution, run *persistence.Run) (*persistence.Run, error) {
	def := ex.def
	ctx, span := e.tracer.Start(e.baseCtx, "workflow.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("workflow.name", def.Name),
		attribute.Int("workflow.steps", len(def.Steps)),
	))
	defer span.End()

	logger := e.logger.With(zap.String("run_id", run.ID), zap.String("workflow", def.Name))
	started := time.Now()
	rs := newRunState(def, run)

	var (
		results    = make(chan stepOutcome, len(def.Steps))
		inflight   int
		exclusive  bool
		haltErr    error
		cancelling = run.Status == persistence.RunStatusCancelling
	)

	if run.Status == persistence.RunStatusPending {
		if _, err := e.state.SetStatus(ctx, run.ID, persistence.RunStatusRunning); err != nil {
			haltErr = err
		}
	}
	logger.Info("run started", zap.String("first_pending", run.FirstPending()))

	for {
		if haltErr == nil && !cancelling && ex.cancelRequested() {
			cancelling = true
			if _, err := e.state.SetStatus(ctx, run.ID, persistence.RunStatusCancelling); err != nil {
				haltErr = err
			}
			logger.Info("run cancelling", zap.Int("in_flight", inflight))
		}

		if haltErr == nil && !cancelling {
			haltErr = e.propagateSkips(ctx, run.ID, rs, logger)
		}

		if haltErr == nil && !cancelling && !exclusive {
			for _, s := range def.Steps {
				if inflight >= e.cfg.MaxConcurrency {
					break
				}
				if !s.Parallel || !rs.ready(s) {
					continue
				}
				if haltErr = e.launch(ctx, ex, rs, s, results, false); haltErr != nil {
					break
				}
				inflight++
			}
			if haltErr == nil && inflight == 0 {
				for _, s := range def.Steps {
					if s.Parallel || !rs.ready(s) {
						continue
					}
					if haltErr = e.launch(ctx, ex, rs, s, results, true); haltErr == nil {
						inflight++
						exclusive = true
					}
					break
				}
			}
		}

		if inflight == 0 {
			break
		}

		var out stepOutcome
		if cancelling || haltErr != nil {
			out = <-results
		} else {
			select {
			case out = <-results:
			case <-ex.cancelCh:
				continue
			}
		}
		inflight--
		if out.exclusive {
			exclusive = false
		}

		if haltErr != nil {
			logger.Warn("step result not recorded after persistence failure",
				zap.String("step", out.step),
				zap.String("status", string(out.result.Status)))
			continue
		}

		// 运行被中止时，被打断的步骤记为跳过而不是失败
		if cancelling && out.result.Status == persistence.StepStatusFailed && out.result.ErrorKind == types.ErrCancelled {
			out.result.Status = persistence.StepStatusSkipped
		}
		if _, err := e.state.UpdateStep(ctx, run.ID, out.step, out.result); err != nil {
			haltErr = err
			continue
		}
		rs.record(out.step, out.result)
		e.observeStep(def.Name, out.step, out.result)
	}

	if haltErr != nil {
		logger.Error("run halted", zap.Error(haltErr))
		span.RecordError(haltErr)
		span.SetStatus(codes.Error, string(types.GetErrorCode(haltErr)))
		final, _ := e.state.Load(context.WithoutCancel(ctx), run.ID)
		return final, haltErr
	}

	final, err := e.finalize(ctx, ex, rs, cancelling)
	if err != nil {
		logger.Error("failed to finalize run", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		return final, err
	}

	elapsed := time.Since(started)
	span.SetAttributes(attribute.String("run.status", string(final.Status)))
	if final.Status != persistence.RunStatusCompleted {
		span.SetStatus(codes.Error, string(final.Status))
	}
	if e.recorder != nil {
		e.recorder.RecordRunFinished(def.Name, string(final.Status), elapsed.Seconds())
	}
	logger.Info("run finished",
		zap.String("status", string(final.Status)),
		zap.Duration("duration", elapsed))
	return final, nil
}

// launch persists the step as running and starts it.
func (e *Engine) launch(ctx context.Context, ex *execution, rs *runState, s Step, results chan<- stepOutcome, exclusive bool) error {
	prev := rs.steps[s.Name]
	now := time.Now().UTC()
	running := persistence.StepResult{
		Status:    persistence.StepStatusRunning,
		Attempts:  prev.Attempts,
		Optional:  s.Optional,
		StartedAt: &now,
	}
	if _, err := e.state.UpdateStep(ctx, ex.runID, s.Name, running); err != nil {
		return err
	}
	rs.steps[s.Name] = running

	input := rs.inputFor(ex.runID, s)
	go func() {
		results <- stepOutcome{
			step:      s.Name,
			result:    e.runStep(ctx, ex, s, input, prev.Attempts, now),
			exclusive: exclusive,
		}
	}()
	return nil
}

// propagateSkips skips every pending step downstream of a terminal step
// that did not satisfy its dependents.
func (e *Engine) propagateSkips(ctx context.Context, runID string, rs *runState, logger *zap.Logger) error {
	for _, root := range rs.def.Steps {
		st := rs.steps[root.Name]
		if !st.Status.IsTerminal() || rs.satisfied(root.Name) {
			continue
		}
		for _, name := range rs.def.Dependents(root.Name) {
			prev := rs.steps[name]
			if prev.Status != persistence.StepStatusPending {
				continue
			}
			res := skipped(prev, types.ErrBlocked,
				fmt.Sprintf("prerequisite %s %s", root.Name, st.Status), time.Now().UTC())
			if _, err := e.state.UpdateStep(ctx, runID, name, res); err != nil {
				return err
			}
			rs.record(name, res)
			e.observeStep(rs.def.Name, name, res)
			logger.Info("step skipped", zap.String("step", name), zap.String("blocked_by", root.Name))
		}
	}
	return nil
}

// finalize records the terminal run status. Cancelled runs skip every
// unfinished step; otherwise the run completes when every non-optional step
// succeeded and its output maps step names to their outputs.
func (e *Engine) finalize(ctx context.Context, ex *execution, rs *runState, cancelling bool) (*persistence.Run, error) {
	now := time.Now().UTC()
	u := persistence.Update{Steps: make(map[string]persistence.StepResult)}

	if cancelling {
		for _, s := range rs.def.Steps {
			if st := rs.steps[s.Name]; !st.Status.IsTerminal() {
				u.Steps[s.Name] = skipped(st, types.ErrCancelled, "run cancelled", now)
			}
		}
		status := persistence.RunStatusCancelled
		u.Status = &status
		return e.state.Update(ctx, ex.runID, u)
	}

	completed := true
	output := types.Payload{}
	for _, s := range rs.def.Steps {
		st := rs.steps[s.Name]
		if !st.Status.IsTerminal() {
			st = skipped(st, types.ErrBlocked, "prerequisites never satisfied", now)
			u.Steps[s.Name] = st
		}
		switch {
		case st.Status == persistence.StepStatusSuccess:
			output[s.Name] = rs.outputs[s.Name].Clone()
		case !s.Optional:
			completed = false
		}
	}

	status := persistence.RunStatusFailed
	if completed {
		status = persistence.RunStatusCompleted
		u.Output = output
	}
	u.Status = &status
	return e.state.Update(ctx, ex.runID, u)
}

func (e *Engine) observeStep(workflow, step string, res persistence.StepResult) {
	if e.recorder == nil {
		return
	}
	var seconds float64
	if res.StartedAt != nil && res.CompletedAt != nil {
		seconds = res.CompletedAt.Sub(*res.StartedAt).Seconds()
	}
	e.recorder.RecordStepFinished(workflow, step, string(res.Status), res.Attempts, seconds)
}
