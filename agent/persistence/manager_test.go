package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/careerflow/types"
)

// brokenStore fails every write after creation.
type brokenStore struct {
	*MemoryRunStore
}

func (b brokenStore) Update(ctx context.Context, runID string, u Update) (*Run, error) {
	return nil, errors.New("disk full")
}

func TestManager_ErrorMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := NewManager(NewMemoryRunStore(), zap.NewNop())

	require.NoError(t, mgr.Create(ctx, newTestRun("job-1")))

	err := mgr.Create(ctx, newTestRun("job-1"))
	assert.True(t, types.HasCode(err, types.ErrDuplicateRun), "got %v", err)

	_, err = mgr.Load(ctx, "unknown")
	assert.True(t, types.HasCode(err, types.ErrRunNotFound), "got %v", err)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.SetStatus(ctx, "job-1", RunStatusCompleted)
	assert.True(t, types.HasCode(err, types.ErrInvalidTransition), "got %v", err)

	err = mgr.Create(ctx, newTestRun("bad id"))
	assert.True(t, types.HasCode(err, types.ErrInvalidInput), "got %v", err)

	assert.True(t, types.HasCode(mgr.Create(ctx, nil), types.ErrInvalidInput))
}

func TestManager_PersistenceFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := NewManager(brokenStore{NewMemoryRunStore()}, zap.NewNop())
	require.NoError(t, mgr.Create(ctx, newTestRun("job-2")))

	_, err := mgr.UpdateStep(ctx, "job-2", "a", StepResult{Status: StepStatusRunning})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrStatePersistenceFailure))
	assert.False(t, types.IsRetryable(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestManager_LifecycleAndSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := NewManager(NewMemoryRunStore(), nil)
	defer mgr.Close()

	require.NoError(t, mgr.Create(ctx, newTestRun("job-3")))
	_, err := mgr.SetStatus(ctx, "job-3", RunStatusRunning)
	require.NoError(t, err)

	start := time.Now().UTC()
	end := start.Add(1500 * time.Millisecond)
	_, err = mgr.UpdateStep(ctx, "job-3", "a", StepResult{Status: StepStatusSuccess, Attempts: 1, StartedAt: &start, CompletedAt: &end})
	require.NoError(t, err)
	_, err = mgr.UpdateStep(ctx, "job-3", "b", StepResult{
		Status:      StepStatusFailed,
		ErrorKind:   types.ErrInvalidInput,
		ErrorDetail: "job description is empty",
		Attempts:    1,
	})
	require.NoError(t, err)
	_, err = mgr.UpdateStep(ctx, "job-3", "c", StepResult{Status: StepStatusSkipped, ErrorKind: types.ErrCancelled, ErrorDetail: "upstream b failed"})
	require.NoError(t, err)
	_, err = mgr.SetStatus(ctx, "job-3", RunStatusFailed)
	require.NoError(t, err)

	sum, err := mgr.Summary(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, sum.Status)
	assert.Equal(t, 1, sum.StepCounts[StepStatusSuccess])
	assert.Equal(t, 1, sum.StepCounts[StepStatusFailed])
	assert.Equal(t, 1, sum.StepCounts[StepStatusSkipped])
	require.Len(t, sum.Steps, 3)
	assert.Equal(t, 1500*time.Millisecond, sum.Steps[0].Duration)
	assert.Nil(t, sum.Output)

	require.NotNil(t, sum.Failure)
	require.Len(t, sum.Failure.Failed, 1)
	assert.Equal(t, "b", sum.Failure.Failed[0].Step)
	assert.Equal(t, types.ErrInvalidInput, sum.Failure.Failed[0].ErrorKind)
	assert.Equal(t, "job description is empty", sum.Failure.Failed[0].ErrorDetail)
	assert.Equal(t, []string{"c"}, sum.Failure.Skipped)

	runs, err := mgr.List(ctx, RunFilter{Status: []RunStatus{RunStatusFailed}})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.NoError(t, mgr.Ping(ctx))
}

func TestManager_CompletedSummaryHasOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := NewManager(NewMemoryRunStore(), nil)

	require.NoError(t, mgr.Create(ctx, newTestRun("job-4", "only")))
	_, err := mgr.SetStatus(ctx, "job-4", RunStatusRunning)
	require.NoError(t, err)
	_, err = mgr.Update(ctx, "job-4", Update{
		Steps:  map[string]StepResult{"only": {Status: StepStatusSuccess}},
		Status: ptr(RunStatusCompleted),
		Output: types.Payload{"export_ref": "out/job-4.json"},
	})
	require.NoError(t, err)

	sum, err := mgr.Summary(ctx, "job-4")
	require.NoError(t, err)
	assert.Nil(t, sum.Failure)
	assert.Equal(t, "out/job-4.json", sum.Output.String("export_ref"))
}

func TestManager_EmptyUpdateIsLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mgr := NewManager(NewMemoryRunStore(), nil)
	require.NoError(t, mgr.Create(ctx, newTestRun("job-5")))

	before, err := mgr.Load(ctx, "job-5")
	require.NoError(t, err)
	after, err := mgr.Update(ctx, "job-5", Update{})
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("run")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())
}

func TestRun_ApplyRules(t *testing.T) {
	t.Parallel()

	run := newTestRun("r")
	require.NoError(t, run.Apply(StatusUpdate(RunStatusRunning)))
	require.NoError(t, run.Apply(StatusUpdate(RunStatusRunning)), "staying put is allowed")
	require.NoError(t, run.Apply(StatusUpdate(RunStatusCancelling)))
	assert.Error(t, run.Apply(StatusUpdate(RunStatusCompleted)), "cancelling cannot complete")
	require.NoError(t, run.Apply(StatusUpdate(RunStatusCancelled)))
	assert.True(t, run.Status.IsTerminal())
	assert.True(t, run.Status.Valid())
	assert.False(t, RunStatus("paused").Valid())

	// 重复写入相同终态不报错，也不覆盖原结果
	run2 := newTestRun("r2")
	require.NoError(t, run2.Apply(StepUpdate("a", StepResult{Status: StepStatusSuccess, Output: types.Payload{"v": "first"}})))
	require.NoError(t, run2.Apply(StepUpdate("a", StepResult{Status: StepStatusSuccess, Output: types.Payload{"v": "second"}})))
	assert.Equal(t, "first", run2.Steps["a"].Output.String("v"))

	assert.Equal(t, "b", run2.FirstPending())
}

func TestValidateRunID(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"run-1", "abc_DEF.2", "0"} {
		assert.NoError(t, ValidateRunID(id), id)
	}
	for _, id := range []string{"", "-lead", "a/b", "../x", "has space", "a:b"} {
		assert.ErrorIs(t, ValidateRunID(id), ErrInvalidInput, id)
	}
}

// 性质：任意更新序列下，成功的步骤结果永不回退；被拒绝的更新不产生任何改动
func TestProperty_MergeNeverRegressesSuccess(t *testing.T) {
	steps := []string{"a", "b", "c", "d"}
	statuses := []StepStatus{StepStatusPending, StepStatusRunning, StepStatusSuccess, StepStatusFailed, StepStatusSkipped}
	runStatuses := []RunStatus{RunStatusPending, RunStatusRunning, RunStatusCancelling, RunStatusCompleted, RunStatusFailed, RunStatusCancelled}

	rapid.Check(t, func(rt *rapid.T) {
		run := newTestRun("prop", steps...)
		n := rapid.IntRange(1, 40).Draw(rt, "updates")

		for i := 0; i < n; i++ {
			u := Update{Steps: map[string]StepResult{}}
			k := rapid.IntRange(0, 2).Draw(rt, "stepsInUpdate")
			for j := 0; j < k; j++ {
				name := rapid.SampledFrom(steps).Draw(rt, "step")
				u.Steps[name] = StepResult{Status: rapid.SampledFrom(statuses).Draw(rt, "status")}
			}
			if rapid.Bool().Draw(rt, "withStatus") {
				s := rapid.SampledFrom(runStatuses).Draw(rt, "runStatus")
				u.Status = &s
			}

			before := run.Clone()
			err := run.Apply(u)
			if err != nil {
				if !types.HasCode(err, types.ErrInvalidTransition) {
					rt.Fatalf("unexpected error kind: %v", err)
				}
				if before.Status != run.Status {
					rt.Fatalf("rejected update changed run status")
				}
				for _, s := range steps {
					if before.Steps[s].Status != run.Steps[s].Status {
						rt.Fatalf("rejected update changed step %s", s)
					}
				}
				continue
			}

			for _, s := range steps {
				prev := before.Steps[s].Status
				if prev.IsTerminal() && run.Steps[s].Status != prev {
					rt.Fatalf("step %s regressed from %s to %s", s, prev, run.Steps[s].Status)
				}
			}
			if before.Status.IsTerminal() && run.Status != before.Status {
				rt.Fatalf("run left terminal status %s", before.Status)
			}
		}
	})
}

func ptr[T any](v T) *T { return &v }
