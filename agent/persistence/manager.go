package persistence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/types"
)

// Manager is the state manager used by the workflow engine. It wraps a
// RunStore, serializes writes per run inside this process and translates
// store errors into the structured error taxonomy:
//
//   - ErrAlreadyExists → DUPLICATE_RUN
//   - ErrNotFound      → RUN_NOT_FOUND
//   - ErrInvalidInput  → INVALID_INPUT
//   - merge violations → INVALID_TRANSITION (passed through)
//   - anything else    → STATE_PERSISTENCE_FAILURE
type Manager struct {
	store  RunStore
	locks  *keyedMutex
	logger *zap.Logger
}

// NewManager creates a state manager over store
func NewManager(store RunStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		locks:  newKeyedMutex(),
		logger: logger.With(zap.String("component", "state_manager")),
	}
}

// Store returns the underlying store
func (m *Manager) Store() RunStore {
	return m.store
}

// Create persists a new run.
func (m *Manager) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return types.NewError(types.ErrInvalidInput, "run is nil")
	}
	if err := ValidateRunID(run.ID); err != nil {
		return m.translate("create", run.ID, err)
	}
	if err := m.store.Create(ctx, run); err != nil {
		return m.translate("create", run.ID, err)
	}
	m.logger.Debug("run created",
		zap.String("run_id", run.ID),
		zap.String("workflow", run.Workflow),
		zap.Int("steps", len(run.StepOrder)))
	return nil
}

// Load returns the stored run. Two loads with no update in between return
// equal records.
func (m *Manager) Load(ctx context.Context, runID string) (*Run, error) {
	run, err := m.store.Get(ctx, runID)
	if err != nil {
		return nil, m.translate("load", runID, err)
	}
	return run, nil
}

// Update atomically merges u into the stored run. Once it returns, any Load
// observes the change.
func (m *Manager) Update(ctx context.Context, runID string, u Update) (*Run, error) {
	if u.Empty() {
		return m.Load(ctx, runID)
	}

	unlock := m.locks.Lock(runID)
	defer unlock()

	start := time.Now()
	run, err := m.store.Update(ctx, runID, u)
	if err != nil {
		return nil, m.translate("update", runID, err)
	}
	if ce := m.logger.Check(zap.DebugLevel, "run updated"); ce != nil {
		fields := []zap.Field{
			zap.String("run_id", runID),
			zap.String("status", string(run.Status)),
			zap.Duration("duration", time.Since(start)),
		}
		for name, res := range u.Steps {
			fields = append(fields, zap.String("step."+name, string(res.Status)))
		}
		ce.Write(fields...)
	}
	return run, nil
}

// UpdateStep records one step result.
func (m *Manager) UpdateStep(ctx context.Context, runID, step string, res StepResult) (*Run, error) {
	return m.Update(ctx, runID, StepUpdate(step, res))
}

// SetStatus changes the overall run status.
func (m *Manager) SetStatus(ctx context.Context, runID string, status RunStatus) (*Run, error) {
	return m.Update(ctx, runID, StatusUpdate(status))
}

// List returns runs matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	runs, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, m.translate("list", "", err)
	}
	return runs, nil
}

// Summary loads a run and returns its structured summary.
func (m *Manager) Summary(ctx context.Context, runID string) (Summary, error) {
	run, err := m.Load(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	return run.Summary(), nil
}

// Ping checks the store
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.store.Ping(ctx); err != nil {
		return m.translate("ping", "", err)
	}
	return nil
}

// Close closes the store
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) translate(op, runID string, err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, ErrAlreadyExists):
		return types.Errorf(types.ErrDuplicateRun, "run %s already exists", runID).WithCause(err)
	case errors.Is(err, ErrNotFound):
		return types.Errorf(types.ErrRunNotFound, "run %s not found", runID).WithCause(err)
	case errors.Is(err, ErrInvalidInput):
		return types.NewError(types.ErrInvalidInput, err.Error())
	}

	m.logger.Error("state store operation failed",
		zap.String("op", op),
		zap.String("run_id", runID),
		zap.Error(err))
	return types.Errorf(types.ErrStatePersistenceFailure, "%s run %s", op, runID).WithCause(err)
}
