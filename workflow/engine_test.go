package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/internal/retry"
	"github.com/BaSui01/careerflow/types"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type funcAgent struct {
	name  string
	fn    func(ctx context.Context, input types.Payload, call int) agent.Result
	calls atomic.Int32
}

func newAgent(name string, fn func(ctx context.Context, input types.Payload, call int) agent.Result) *funcAgent {
	return &funcAgent{name: name, fn: fn}
}

func echoAgent(name string) *funcAgent {
	return newAgent(name, func(ctx context.Context, input types.Payload, call int) agent.Result {
		return agent.Succeeded(types.Payload{"by": name}, nil)
	})
}

func (a *funcAgent) Name() string { return a.name }

func (a *funcAgent) Process(ctx context.Context, input types.Payload) agent.Result {
	n := int(a.calls.Add(1))
	return a.fn(ctx, input, n)
}

type harness struct {
	bus    *bus.Bus
	state  *persistence.Manager
	engine *Engine
}

func testConfig() Config {
	return Config{
		MaxConcurrency:     3,
		DefaultStepTimeout: 2 * time.Second,
		Retry: retry.Policy{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func newHarness(t *testing.T, cfg Config, store persistence.RunStore, agents ...agent.Agent) *harness {
	t.Helper()
	if store == nil {
		store = persistence.NewMemoryRunStore()
	}
	b := bus.New()
	reg := agent.NewRegistry(nil)
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	atts, err := reg.AttachAll(b)
	require.NoError(t, err)

	h := &harness{
		bus:   b,
		state: persistence.NewManager(store, zap.NewNop()),
	}
	h.engine = NewEngine(b, reg, h.state, cfg, zap.NewNop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Close(ctx)
		for _, att := range atts {
			att.Detach()
		}
		_ = b.Close()
	})
	return h
}

func (h *harness) run(t *testing.T, def *Definition, input types.Payload, opts ...SubmitOption) *persistence.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := h.engine.Run(ctx, def, input, opts...)
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

func intPtr(v int) *int { return &v }

// failingStore fails updates selected by failOn.
type failingStore struct {
	*persistence.MemoryRunStore
	failOn func(u persistence.Update) bool
}

func (s failingStore) Update(ctx context.Context, runID string, u persistence.Update) (*persistence.Run, error) {
	if s.failOn(u) {
		return nil, errors.New("connection reset by peer")
	}
	return s.MemoryRunStore.Update(ctx, runID, u)
}

type recordingRecorder struct {
	mu    sync.Mutex
	runs  map[string]int
	steps map[string]string
}

func (r *recordingRecorder) RecordRunFinished(workflow, status string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[workflow+"/"+status]++
}

func (r *recordingRecorder) RecordStepFinished(workflow, step, status string, attempts int, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step] = status
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

func TestEngine_ParallelStepsThenJoin(t *testing.T) {
	t.Parallel()

	// A 与 B 必须同时在途才能通过屏障
	var barrier sync.WaitGroup
	barrier.Add(2)
	meet := func(name string) *funcAgent {
		return newAgent(name, func(ctx context.Context, input types.Payload, call int) agent.Result {
			barrier.Done()
			done := make(chan struct{})
			go func() { barrier.Wait(); close(done) }()
			select {
			case <-done:
				return agent.Succeeded(types.Payload{"from": name}, nil)
			case <-ctx.Done():
				return agent.FailedFromError(ctx.Err())
			}
		})
	}

	var joinInput types.Payload
	join := newAgent("join", func(ctx context.Context, input types.Payload, call int) agent.Result {
		joinInput = input
		return agent.Succeeded(types.Payload{"joined": true}, types.Payload{"tokens": 12})
	})

	h := newHarness(t, testConfig(), nil, meet("alpha"), meet("beta"), join)
	def := &Definition{
		Name:   "fan_in",
		Params: types.Payload{"tone": "direct"},
		Steps: []Step{
			{Name: "a", Agent: "alpha", Parallel: true},
			{Name: "b", Agent: "beta", Parallel: true},
			{Name: "c", Agent: "join", DependsOn: []string{"a", "b"}, Params: types.Payload{"format": "pdf"}},
		},
	}

	run := h.run(t, def, types.Payload{"company": "Acme", "role": "Staff Engineer"})

	assert.Equal(t, persistence.RunStatusCompleted, run.Status)
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, persistence.StepStatusSuccess, run.Steps[name].Status, name)
		assert.Equal(t, 1, run.Steps[name].Attempts, name)
	}
	assert.Equal(t, "alpha", run.Output.Map("a").String("from"))
	assert.Equal(t, "beta", run.Output.Map("b").String("from"))
	assert.Equal(t, true, run.Output.Map("c")["joined"])
	assert.EqualValues(t, 12, run.Steps["c"].Metrics["tokens"])

	require.NotNil(t, joinInput)
	assert.Equal(t, "Acme", joinInput.Map(agent.InputJob).String("company"))
	assert.Equal(t, "direct", joinInput.Map(agent.InputWorkflow).String("tone"))
	assert.Equal(t, "pdf", joinInput.Map(agent.InputParams).String("format"))
	assert.Equal(t, run.ID, joinInput.String(agent.InputRunID))
	assert.Equal(t, "c", joinInput.String(agent.InputStep))
	upstream := joinInput.Map(agent.InputUpstream)
	assert.Equal(t, "alpha", upstream.Map("a").String("from"))
	assert.Equal(t, "beta", upstream.Map("b").String("from"))
}

func TestEngine_FailureSkipsDependents(t *testing.T) {
	t.Parallel()

	bad := newAgent("beta", func(ctx context.Context, input types.Payload, call int) agent.Result {
		return agent.Failed(types.ErrInvalidInput, "job description is empty")
	})
	join := echoAgent("join")
	h := newHarness(t, testConfig(), nil, echoAgent("alpha"), bad, join)

	def := &Definition{Name: "fan_in", Steps: []Step{
		{Name: "a", Agent: "alpha", Parallel: true},
		{Name: "b", Agent: "beta", Parallel: true},
		{Name: "c", Agent: "join", DependsOn: []string{"a", "b"}},
		{Name: "d", Agent: "join", DependsOn: []string{"c"}},
	}}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusFailed, run.Status)
	assert.Equal(t, persistence.StepStatusSuccess, run.Steps["a"].Status)

	b := run.Steps["b"]
	assert.Equal(t, persistence.StepStatusFailed, b.Status)
	assert.Equal(t, types.ErrInvalidInput, b.ErrorKind)
	assert.Equal(t, "job description is empty", b.ErrorDetail)
	assert.Equal(t, 1, b.Attempts, "permanent failures are not retried")
	assert.Equal(t, int32(1), bad.calls.Load())

	for _, name := range []string{"c", "d"} {
		assert.Equal(t, persistence.StepStatusSkipped, run.Steps[name].Status, name)
		assert.Equal(t, types.ErrBlocked, run.Steps[name].ErrorKind, name)
		assert.Equal(t, "prerequisite b failed", run.Steps[name].ErrorDetail, name)
	}
	assert.Equal(t, int32(0), join.calls.Load())
	assert.Nil(t, run.Output)

	sum, err := h.engine.Status(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, sum.Failure)
	require.Len(t, sum.Failure.Failed, 1)
	assert.Equal(t, "b", sum.Failure.Failed[0].Step)
	assert.Equal(t, []string{"c", "d"}, sum.Failure.Skipped)
}

func TestEngine_OptionalFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	flaky := newAgent("enrich", func(ctx context.Context, input types.Payload, call int) agent.Result {
		return agent.Failed(types.ErrNotFound, "no company profile")
	})
	var sawUpstream types.Payload
	final := newAgent("final", func(ctx context.Context, input types.Payload, call int) agent.Result {
		sawUpstream = input.Map(agent.InputUpstream)
		return agent.Succeeded(types.Payload{"ok": true}, nil)
	})
	h := newHarness(t, testConfig(), nil, flaky, final)

	def := &Definition{Name: "optional", Steps: []Step{
		{Name: "enrich", Agent: "enrich", Optional: true},
		{Name: "final", Agent: "final", DependsOn: []string{"enrich"}},
	}}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusCompleted, run.Status)
	assert.Equal(t, persistence.StepStatusFailed, run.Steps["enrich"].Status)
	assert.True(t, run.Steps["enrich"].Optional)
	assert.Equal(t, persistence.StepStatusSuccess, run.Steps["final"].Status)
	assert.NotContains(t, sawUpstream, "enrich")
	assert.NotContains(t, run.Output, "enrich")
}

func TestEngine_SequentialStepsRunAlone(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		inFlight int
		order    []string
		overlap  []string
	)
	tracked := func(name string, exclusive bool) *funcAgent {
		return newAgent(name, func(ctx context.Context, input types.Payload, call int) agent.Result {
			mu.Lock()
			inFlight++
			order = append(order, name)
			if exclusive && inFlight > 1 {
				overlap = append(overlap, name)
			}
			mu.Unlock()

			time.Sleep(15 * time.Millisecond)

			mu.Lock()
			if exclusive && inFlight > 1 {
				overlap = append(overlap, name)
			}
			inFlight--
			mu.Unlock()
			return agent.Succeeded(types.Payload{}, nil)
		})
	}

	h := newHarness(t, testConfig(), nil,
		tracked("s1", true), tracked("s2", true), tracked("p1", false), tracked("p2", false))

	def := &Definition{Name: "mixed", Steps: []Step{
		{Name: "s1", Agent: "s1"},
		{Name: "p1", Agent: "p1", Parallel: true},
		{Name: "s2", Agent: "s2"},
		{Name: "p2", Agent: "p2", Parallel: true},
	}}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusCompleted, run.Status)
	assert.Empty(t, overlap, "sequential steps ran alongside others")
	require.Len(t, order, 4)
	assert.ElementsMatch(t, []string{"p1", "p2"}, order[:2], "parallel-eligible steps start together first")
	assert.Equal(t, []string{"s1", "s2"}, order[2:], "sequential steps follow declaration order")
}

func TestEngine_MaxConcurrency(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	worker := newAgent("worker", func(ctx context.Context, input types.Payload, call int) agent.Result {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return agent.Succeeded(types.Payload{}, nil)
	})

	cfg := testConfig()
	cfg.MaxConcurrency = 2
	h := newHarness(t, cfg, nil, worker)

	def := &Definition{Name: "wide"}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		def.Steps = append(def.Steps, Step{Name: name, Agent: "worker", Parallel: true})
	}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusCompleted, run.Status)
	assert.Equal(t, int32(6), worker.calls.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// ---------------------------------------------------------------------------
// Retries and timeouts
// ---------------------------------------------------------------------------

func TestEngine_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	content := newAgent("content", func(ctx context.Context, input types.Payload, call int) agent.Result {
		if call <= 3 {
			return agent.Failed(types.ErrRateLimited, "429 from generation backend")
		}
		assert.Equal(t, 4, call)
		return agent.Succeeded(types.Payload{"resume": "..."}, nil)
	})
	h := newHarness(t, testConfig(), nil, content)

	def := &Definition{Name: "content_only", Steps: []Step{{Name: "content", Agent: "content"}}}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusCompleted, run.Status)
	st := run.Steps["content"]
	assert.Equal(t, persistence.StepStatusSuccess, st.Status)
	assert.Equal(t, 4, st.Attempts)
	assert.EqualValues(t, 4, st.Metrics[MetricAttempts])
}

func TestEngine_RetriesExhausted(t *testing.T) {
	t.Parallel()

	down := newAgent("research", func(ctx context.Context, input types.Payload, call int) agent.Result {
		return agent.Failed(types.ErrUpstreamUnavailable, "job board unreachable")
	})
	h := newHarness(t, testConfig(), nil, down)

	def := &Definition{Name: "research_only", Steps: []Step{
		{Name: "research", Agent: "research", MaxRetries: intPtr(1)},
	}}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusFailed, run.Status)
	st := run.Steps["research"]
	assert.Equal(t, types.ErrUpstreamUnavailable, st.ErrorKind)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, int32(2), down.calls.Load())
}

func TestEngine_TimeoutRecordedOnce(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := newAgent("slow", func(ctx context.Context, input types.Payload, call int) agent.Result {
		<-release
		return agent.Succeeded(types.Payload{"late": true}, nil)
	})
	h := newHarness(t, testConfig(), nil, slow)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	def := &Definition{Name: "slow", Steps: []Step{
		{Name: "slow", Agent: "slow", Timeout: 30 * time.Millisecond, MaxRetries: intPtr(0)},
	}}
	run := h.run(t, def, nil)

	assert.Equal(t, persistence.RunStatusFailed, run.Status)
	st := run.Steps["slow"]
	assert.Equal(t, persistence.StepStatusFailed, st.Status)
	assert.Equal(t, types.ErrTimeout, st.ErrorKind)
	assert.Equal(t, 1, st.Attempts)

	// 超时后到达的响应不得改写已记录的结果
	unblock()
	require.Eventually(t, func() bool {
		for m := range h.bus.History(run.ID) {
			if m.Kind == bus.KindResponse {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	again, err := h.state.Load(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ErrTimeout, again.Steps["slow"].ErrorKind)
	assert.Equal(t, 1, again.Steps["slow"].Attempts)
	assert.Equal(t, persistence.RunStatusFailed, again.Status)
}

func TestEngine_BusErrorIsUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	b := bus.New()
	defer b.Close()
	var calls atomic.Int32
	_, err := b.Subscribe("broken", func(ctx context.Context, msg bus.Message) error {
		calls.Add(1)
		return errors.New("handler exploded")
	})
	require.NoError(t, err)

	state := persistence.NewManager(persistence.NewMemoryRunStore(), nil)
	eng := NewEngine(b, agentSet{"broken": true}, state, testConfig(), nil)
	defer eng.Close(context.Background())

	def := &Definition{Name: "broken", Steps: []Step{{Name: "x", Agent: "broken", MaxRetries: intPtr(1)}}}
	run, err := eng.Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, persistence.RunStatusFailed, run.Status)
	assert.Equal(t, types.ErrUpstreamUnavailable, run.Steps["x"].ErrorKind)
	assert.Contains(t, run.Steps["x"].ErrorDetail, "handler exploded")
	assert.Equal(t, 2, run.Steps["x"].Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

// ---------------------------------------------------------------------------
// Validation and lookups
// ---------------------------------------------------------------------------

func TestEngine_UnknownRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	_, err := h.engine.Status(ctx, "no-such-run")
	assert.True(t, types.HasCode(err, types.ErrRunNotFound), "got %v", err)

	_, err = h.engine.Wait(ctx, "no-such-run")
	assert.True(t, types.HasCode(err, types.ErrRunNotFound))

	err = h.engine.Cancel(ctx, "no-such-run")
	assert.True(t, types.HasCode(err, types.ErrRunNotFound))

	err = h.engine.Resume(ctx, seniorLevel(), "no-such-run")
	assert.True(t, types.HasCode(err, types.ErrMissingAgent), "definition is checked first")
}

func TestEngine_RejectedDefinitionsCreateNoRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil, echoAgent("x"))
	ctx := context.Background()

	cyclic := &Definition{Name: "cyclic", Steps: []Step{
		{Name: "a", Agent: "x", DependsOn: []string{"b"}},
		{Name: "b", Agent: "x", DependsOn: []string{"a"}},
	}}
	_, err := h.engine.Submit(ctx, cyclic, nil, WithRunID("job-cyclic"))
	assert.True(t, types.HasCode(err, types.ErrMalformedWorkflow), "got %v", err)

	unbound := &Definition{Name: "unbound", Steps: []Step{{Name: "a", Agent: "ghost"}}}
	_, err = h.engine.Submit(ctx, unbound, nil, WithRunID("job-unbound"))
	assert.True(t, types.HasCode(err, types.ErrMissingAgent), "got %v", err)

	_, err = h.engine.Submit(ctx, nil, nil)
	assert.True(t, types.HasCode(err, types.ErrMalformedWorkflow))

	runs, err := h.state.List(ctx, persistence.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEngine_DuplicateRunID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil, echoAgent("x"))
	def := &Definition{Name: "one", Steps: []Step{{Name: "a", Agent: "x"}}}

	h.run(t, def, nil, WithRunID("job-42"))
	_, err := h.engine.Submit(context.Background(), def, nil, WithRunID("job-42"))
	assert.True(t, types.HasCode(err, types.ErrDuplicateRun), "got %v", err)
}

// ---------------------------------------------------------------------------
// Cancellation and resume
// ---------------------------------------------------------------------------

func TestEngine_CancelLetsInFlightSettle(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	first := newAgent("first", func(ctx context.Context, input types.Payload, call int) agent.Result {
		close(started)
		<-release
		return agent.Succeeded(types.Payload{"done": true}, nil)
	})
	second := echoAgent("second")
	h := newHarness(t, testConfig(), nil, first, second)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	ctx := context.Background()

	def := &Definition{Name: "two", Steps: []Step{
		{Name: "first", Agent: "first"},
		{Name: "second", Agent: "second", DependsOn: []string{"first"}},
	}}
	id, err := h.engine.Submit(ctx, def, nil)
	require.NoError(t, err)
	<-started

	require.NoError(t, h.engine.Cancel(ctx, id))
	require.Eventually(t, func() bool {
		sum, err := h.engine.Status(ctx, id)
		return err == nil && sum.Status == persistence.RunStatusCancelling
	}, 2*time.Second, 5*time.Millisecond)
	unblock()

	run, err := h.engine.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusCancelled, run.Status)
	assert.Equal(t, persistence.StepStatusSuccess, run.Steps["first"].Status)
	assert.Equal(t, persistence.StepStatusSkipped, run.Steps["second"].Status)
	assert.Equal(t, types.ErrCancelled, run.Steps["second"].ErrorKind)
	assert.Equal(t, int32(0), second.calls.Load())

	err = h.engine.Cancel(ctx, id)
	assert.True(t, types.HasCode(err, types.ErrInvalidTransition), "got %v", err)
}

func TestEngine_CancelStoredRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, h.state.Create(ctx, persistence.NewRun("orphan", "two", "", nil, []string{"a", "b"})))
	_, err := h.state.UpdateStep(ctx, "orphan", "a", persistence.StepResult{Status: persistence.StepStatusSuccess})
	require.NoError(t, err)

	require.NoError(t, h.engine.Cancel(ctx, "orphan"))
	run, err := h.state.Load(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusCancelled, run.Status)
	assert.Equal(t, persistence.StepStatusSuccess, run.Steps["a"].Status)
	assert.Equal(t, persistence.StepStatusSkipped, run.Steps["b"].Status)
}

func TestEngine_ResumeContinuesFromCheckpoint(t *testing.T) {
	t.Parallel()

	research := echoAgent("research")
	var contentInput types.Payload
	content := newAgent("content", func(ctx context.Context, input types.Payload, call int) agent.Result {
		contentInput = input
		return agent.Succeeded(types.Payload{"draft": "v1"}, nil)
	})
	h := newHarness(t, testConfig(), nil, research, content, echoAgent("export"))
	ctx := context.Background()

	def := &Definition{Name: "resumable", Steps: []Step{
		{Name: "research", Agent: "research"},
		{Name: "content", Agent: "content", DependsOn: []string{"research"}},
		{Name: "export", Agent: "export", DependsOn: []string{"content"}},
	}}

	// 模拟进程在 content 执行中崩溃
	run := persistence.NewRun("job-7", def.Name, "", types.Payload{"company": "Acme"}, def.StepNames())
	require.NoError(t, h.state.Create(ctx, run))
	_, err := h.state.SetStatus(ctx, "job-7", persistence.RunStatusRunning)
	require.NoError(t, err)
	_, err = h.state.UpdateStep(ctx, "job-7", "research", persistence.StepResult{
		Status: persistence.StepStatusSuccess, Attempts: 1, Output: types.Payload{"industry": "fintech"},
	})
	require.NoError(t, err)
	_, err = h.state.UpdateStep(ctx, "job-7", "content", persistence.StepResult{Status: persistence.StepStatusRunning, Attempts: 1})
	require.NoError(t, err)

	require.NoError(t, h.engine.Resume(ctx, def, "job-7"))
	final, err := h.engine.Wait(ctx, "job-7")
	require.NoError(t, err)

	assert.Equal(t, persistence.RunStatusCompleted, final.Status)
	assert.Equal(t, int32(0), research.calls.Load(), "succeeded steps are not re-run")
	assert.Equal(t, 2, final.Steps["content"].Attempts, "attempt count carries over")
	assert.Equal(t, "fintech", contentInput.Map(agent.InputUpstream).Map("research").String("industry"))
	assert.Equal(t, "Acme", contentInput.Map(agent.InputJob).String("company"))
	assert.Equal(t, "v1", final.Output.Map("content").String("draft"))

	// 已终结的运行再次恢复不做任何事
	require.NoError(t, h.engine.Resume(ctx, def, "job-7"))
	again, err := h.engine.Wait(ctx, "job-7")
	require.NoError(t, err)
	assert.Equal(t, final.UpdatedAt, again.UpdatedAt)
}

func TestEngine_ResumeRejectsMismatchedDefinition(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil, echoAgent("x"))
	ctx := context.Background()

	require.NoError(t, h.state.Create(ctx, persistence.NewRun("job-8", "other", "", nil, []string{"a"})))
	def := &Definition{Name: "one", Steps: []Step{{Name: "a", Agent: "x"}}}
	err := h.engine.Resume(ctx, def, "job-8")
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig), "got %v", err)

	require.NoError(t, h.state.Create(ctx, persistence.NewRun("job-9", "one", "", nil, []string{"b"})))
	err = h.engine.Resume(ctx, def, "job-9")
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig), "got %v", err)
}

// ---------------------------------------------------------------------------
// Persistence failures and observability
// ---------------------------------------------------------------------------

func TestEngine_PersistenceFailureHaltsDispatch(t *testing.T) {
	t.Parallel()

	store := failingStore{
		MemoryRunStore: persistence.NewMemoryRunStore(),
		failOn: func(u persistence.Update) bool {
			st, ok := u.Steps["b"]
			return ok && st.Status == persistence.StepStatusSuccess
		},
	}
	c := echoAgent("c")
	h := newHarness(t, testConfig(), store, echoAgent("a"), echoAgent("b"), c)
	ctx := context.Background()

	def := &Definition{Name: "chain", Steps: []Step{
		{Name: "a", Agent: "a"},
		{Name: "b", Agent: "b", DependsOn: []string{"a"}},
		{Name: "c", Agent: "c", DependsOn: []string{"b"}},
	}}
	id, err := h.engine.Submit(ctx, def, nil)
	require.NoError(t, err)

	_, err = h.engine.Wait(ctx, id)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrStatePersistenceFailure), "got %v", err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Equal(t, int32(0), c.calls.Load(), "no dispatch after an unrecorded transition")

	stored, err := h.state.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, persistence.RunStatusRunning, stored.Status, "run stays resumable")
	assert.Equal(t, persistence.StepStatusSuccess, stored.Steps["a"].Status)
	assert.Equal(t, persistence.StepStatusRunning, stored.Steps["b"].Status)
}

func TestEngine_RecorderAndActive(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{runs: map[string]int{}, steps: map[string]string{}}
	b := bus.New()
	defer b.Close()
	reg := agent.NewRegistry(nil)
	require.NoError(t, reg.Register(echoAgent("x")))
	atts, err := reg.AttachAll(b)
	require.NoError(t, err)
	defer func() {
		for _, a := range atts {
			a.Detach()
		}
	}()

	state := persistence.NewManager(persistence.NewMemoryRunStore(), nil)
	eng := NewEngine(b, reg, state, testConfig(), nil, WithRecorder(rec))

	def := &Definition{Name: "one", Steps: []Step{{Name: "a", Agent: "x"}}}
	_, err = eng.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Empty(t, eng.Active())

	require.NoError(t, eng.Close(context.Background()))
	_, err = eng.Submit(context.Background(), def, nil)
	assert.ErrorIs(t, err, ErrEngineClosed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.runs["one/completed"])
	assert.Equal(t, "success", rec.steps["a"])
}
