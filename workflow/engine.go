package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/internal/retry"
	"github.com/BaSui01/careerflow/types"
)

// EngineSender is the bus identity the engine publishes requests under and
// receives responses on.
const EngineSender = "engine"

const tracerName = "github.com/BaSui01/careerflow/workflow"

// ErrEngineClosed is returned by Submit and Resume after Close.
var ErrEngineClosed = errors.New("workflow engine closed")

// Config tunes scheduling and retries.
type Config struct {
	// MaxConcurrency bounds parallel steps in flight per run
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" env:"MAX_CONCURRENCY"`

	// DefaultStepTimeout applies when neither the step nor the workflow sets one
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout" json:"default_step_timeout" env:"DEFAULT_STEP_TIMEOUT"`

	// Retry is the backoff policy for transient step failures
	Retry retry.Policy `yaml:"retry" json:"retry" env:"RETRY"`
}

// DefaultConfig 返回默认引擎配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:     3,
		DefaultStepTimeout: 5 * time.Minute,
		Retry: retry.Policy{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.DefaultStepTimeout <= 0 {
		c.DefaultStepTimeout = d.DefaultStepTimeout
	}
	c.Retry = c.Retry.Normalize()
	return c
}

// Recorder receives run and step measurements. internal/metrics.Collector
// implements it.
type Recorder interface {
	RecordRunFinished(workflow, status string, seconds float64)
	RecordStepFinished(workflow, step, status string, attempts int, seconds float64)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder reports run and step outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine executes workflow definitions as DAGs. Steps are dispatched to
// their agents over the message bus and every transition is checkpointed
// through the state manager before the next decision is taken.
type Engine struct {
	bus      *bus.Bus
	agents   AgentLookup
	state    *persistence.Manager
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer

	baseCtx context.Context
	abort   context.CancelFunc

	mu     sync.Mutex
	active map[string]*execution
	closed bool
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Agents must already be attached to b (see
// agent.Registry.AttachAll); agents is only consulted for validation.
func NewEngine(b *bus.Bus, agents AgentLookup, state *persistence.Manager, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		bus:     b,
		agents:  agents,
		state:   state,
		cfg:     cfg.normalize(),
		logger:  logger.With(zap.String("component", "workflow_engine")),
		baseCtx: ctx,
		abort:   cancel,
		active:  make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// SubmitOption configures one submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	runID string
}

// WithRunID uses id instead of a generated run identifier.
func WithRunID(id string) SubmitOption {
	return func(o *submitOptions) { o.runID = id }
}

// Submit validates def, creates a pending run and starts executing it in
// the background. A malformed definition or a missing agent is rejected
// before any run is created.
func (e *Engine) Submit(ctx context.Context, def *Definition, input types.Payload, opts ...SubmitOption) (string, error) {
	if def == nil {
		return "", types.NewError(types.ErrMalformedWorkflow, "nil workflow definition")
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	if err := def.ValidateAgents(e.agents); err != nil {
		return "", err
	}

	o := submitOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	run := persistence.NewRun(o.runID, def.Name, def.Version, input, def.StepNames())
	for _, s := range def.Steps {
		if s.Optional {
			run.Steps[s.Name] = persistence.StepResult{Status: persistence.StepStatusPending, Optional: true}
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	if _, busy := e.active[o.runID]; busy {
		e.mu.Unlock()
		return "", types.Errorf(types.ErrDuplicateRun, "run %s is already executing", o.runID)
	}
	e.mu.Unlock()

	if err := e.state.Create(ctx, run); err != nil {
		return "", err
	}

	e.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("workflow", def.Name),
		zap.Int("steps", len(def.Steps)))

	if err := e.start(def, run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// Run submits def and waits for the run to reach a terminal status. If ctx
// ends first the run is cancelled and ctx's error is returned.
func (e *Engine) Run(ctx context.Context, def *Definition, input types.Payload, opts ...SubmitOption) (*persistence.Run, error) {
	id, err := e.Submit(ctx, def, input, opts...)
	if err != nil {
		return nil, err
	}
	run, err := e.Wait(ctx, id)
	if err != nil && ctx.Err() != nil {
		_ = e.Cancel(context.WithoutCancel(ctx), id)
	}
	return run, err
}

// Wait blocks until the run stops executing in this engine and returns the
// final record. For runs not executing here it returns the stored record.
// A state-persistence failure that halted the run is returned as the error.
func (e *Engine) Wait(ctx context.Context, runID string) (*persistence.Run, error) {
	e.mu.Lock()
	ex, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return e.state.Load(ctx, runID)
	}

	select {
	case <-ex.done:
		return ex.final, ex.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the structured summary of a run.
func (e *Engine) Status(ctx context.Context, runID string) (persistence.Summary, error) {
	return e.state.Summary(ctx, runID)
}

// Cancel requests cancellation. A run executing in this engine stops
// dispatching, lets in-flight steps settle and finalizes as cancelled. A
// stored run that no engine is executing is finalized immediately. Terminal
// runs cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	ex, ok := e.active[runID]
	e.mu.Unlock()
	if ok {
		ex.requestCancel()
		e.logger.Info("run cancellation requested", zap.String("run_id", runID))
		return nil
	}

	run, err := e.state.Load(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return types.Errorf(types.ErrInvalidTransition, "run %s is already %s", runID, run.Status)
	}

	now := time.Now().UTC()
	u := persistence.StatusUpdate(persistence.RunStatusCancelled)
	u.Steps = make(map[string]persistence.StepResult)
	for name, st := range run.Steps {
		if !st.Status.IsTerminal() {
			u.Steps[name] = skipped(st, types.ErrCancelled, "run cancelled", now)
		}
	}
	if _, err := e.state.Update(ctx, runID, u); err != nil {
		return err
	}
	e.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// Resume continues a stored run from its first non-terminal step. Step
// results already recorded as success, failed or skipped are kept; steps
// caught running are reset to pending and dispatched again, so agents must
// tolerate at-least-once delivery. Resuming a terminal run is a no-op.
func (e *Engine) Resume(ctx context.Context, def *Definition, runID string) error {
	if def == nil {
		return types.NewError(types.ErrMalformedWorkflow, "nil workflow definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := def.ValidateAgents(e.agents); err != nil {
		return err
	}

	e.mu.Lock()
	_, busy := e.active[runID]
	e.mu.Unlock()
	if busy {
		return types.Errorf(types.ErrInvalidTransition, "run %s is already executing", runID)
	}

	run, err := e.state.Load(ctx, runID)
	if err != nil {
		return err
	}
	if run.Workflow != def.Name {
		return types.Errorf(types.ErrInvalidConfig, "run %s belongs to workflow %q, not %q", runID, run.Workflow, def.Name)
	}
	if len(run.Steps) != len(def.Steps) {
		return types.Errorf(types.ErrInvalidConfig, "run %s has %d steps, workflow %q has %d", runID, len(run.Steps), def.Name, len(def.Steps))
	}
	for _, s := range def.Steps {
		if _, ok := run.Steps[s.Name]; !ok {
			return types.Errorf(types.ErrInvalidConfig, "run %s has no step %q", runID, s.Name)
		}
	}
	if run.Status.IsTerminal() {
		e.logger.Info("run already finished, nothing to resume",
			zap.String("run_id", runID),
			zap.String("status", string(run.Status)))
		return nil
	}

	reset := persistence.Update{Steps: make(map[string]persistence.StepResult)}
	for name, st := range run.Steps {
		if st.Status == persistence.StepStatusRunning {
			st.Status = persistence.StepStatusPending
			st.CompletedAt = nil
			reset.Steps[name] = st
		}
	}
	if !reset.Empty() {
		if run, err = e.state.Update(ctx, runID, reset); err != nil {
			return err
		}
	}

	e.logger.Info("resuming run",
		zap.String("run_id", runID),
		zap.String("workflow", def.Name),
		zap.String("status", string(run.Status)),
		zap.String("first_pending", run.FirstPending()),
		zap.Int("reset_steps", len(reset.Steps)))

	return e.start(def, run)
}

// Active returns the IDs of runs executing in this engine.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every executing run and waits for them to finalize. If ctx
// ends first, in-flight dispatches are aborted and Close waits for the
// runs to record that.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, ex := range e.active {
		ex.requestCancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.abort()
		return nil
	case <-ctx.Done():
		e.abort()
		<-done
		return ctx.Err()
	}
}

func (e *Engine) start(def *Definition, run *persistence.Run) error {
	ex := &execution{
		def:      def,
		runID:    run.ID,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if _, busy := e.active[run.ID]; busy {
		e.mu.Unlock()
		return types.Errorf(types.ErrInvalidTransition, "run %s is already executing", run.ID)
	}
	e.active[run.ID] = ex
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.active, ex.runID)
			e.mu.Unlock()
			close(ex.done)
		}()
		ex.final, ex.err = e.execute(ex, run)
	}()
	return nil
}

// execution is the in-memory handle of one run executing in this engine.
type execution struct {
	def   *Definition
	runID string

	cancelOnce sync.Once
	cancelCh   chan struct{}

	done  chan struct{}
	final *persistence.Run
	err   error
}

func (ex *execution) requestCancel() {
	ex.cancelOnce.Do(func() { close(ex.cancelCh) })
}

func (ex *execution) cancelRequested() bool {
	select {
	case <-ex.cancelCh:
		return true
	default:
		return false
	}
}

func skipped(prev persistence.StepResult, kind types.ErrorCode, detail string, at time.Time) persistence.StepResult {
	return persistence.StepResult{
		Status:      persistence.StepStatusSkipped,
		ErrorKind:   kind,
		ErrorDetail: detail,
		Attempts:    prev.Attempts,
		Optional:    prev.Optional,
		StartedAt:   prev.StartedAt,
		CompletedAt: &at,
	}
}
