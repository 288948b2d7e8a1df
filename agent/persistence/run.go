package persistence

import (
	"fmt"
	"regexp"
	"time"

	"github.com/BaSui01/careerflow/types"
)

// RunStatus represents the overall status of a workflow run
type RunStatus string

const (
	// RunStatusPending indicates the run is accepted but not started
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates steps are being dispatched
	RunStatusRunning RunStatus = "running"

	// RunStatusCancelling indicates cancellation was requested and in-flight
	// steps are settling
	RunStatusCancelling RunStatus = "cancelling"

	// RunStatusCompleted indicates every step succeeded
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed indicates at least one step did not succeed
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled externally
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if no further transition is allowed
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true while the engine may still dispatch or settle steps
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning || s == RunStatusCancelling
}

// Valid reports whether s is one of the known run statuses
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCancelling,
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:    {RunStatusRunning, RunStatusFailed, RunStatusCancelled},
	RunStatusRunning:    {RunStatusCancelling, RunStatusCompleted, RunStatusFailed, RunStatusCancelled},
	RunStatusCancelling: {RunStatusCancelled, RunStatusFailed},
}

// CanTransition reports whether s may move to next. Staying put is allowed.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StepStatus represents the status of one step within a run
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal returns true once the step's outcome is final
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// StepResult is the recorded outcome of one step
type StepResult struct {
	// Status is the current step status
	Status StepStatus `json:"status"`

	// Output is the agent's data on success
	Output types.Payload `json:"output,omitempty"`

	// ErrorKind and ErrorDetail describe a failure or skip reason
	ErrorKind   types.ErrorCode `json:"error_kind,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`

	// Attempts is the number of dispatches made for this step
	Attempts int `json:"attempts,omitempty"`

	// Metrics are the agent-reported metrics of the final attempt
	Metrics types.Payload `json:"metrics,omitempty"`

	// Optional marks steps whose failure does not fail the run
	Optional bool `json:"optional,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r StepResult) clone() StepResult {
	r.Output = r.Output.Clone()
	r.Metrics = r.Metrics.Clone()
	if r.StartedAt != nil {
		t := *r.StartedAt
		r.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// Run is the durable execution record of one workflow invocation
type Run struct {
	// ID is the run identifier; it doubles as the message correlation ID
	ID string `json:"id"`

	// Workflow and Version identify the definition being executed
	Workflow string `json:"workflow"`
	Version  string `json:"version,omitempty"`

	// Status is the overall run status
	Status RunStatus `json:"status"`

	// Input is the job payload the run was submitted with
	Input types.Payload `json:"input,omitempty"`

	// StepOrder lists step names in declaration order
	StepOrder []string `json:"step_order"`

	// Steps maps step name to its recorded result
	Steps map[string]StepResult `json:"steps"`

	// Output is the aggregated output once the run is terminal
	Output types.Payload `json:"output,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a pending run with every step pending.
func NewRun(id, workflow, version string, input types.Payload, steps []string) *Run {
	now := time.Now().UTC()
	r := &Run{
		ID:        id,
		Workflow:  workflow,
		Version:   version,
		Status:    RunStatusPending,
		Input:     input.Clone(),
		StepOrder: append([]string(nil), steps...),
		Steps:     make(map[string]StepResult, len(steps)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range steps {
		r.Steps[s] = StepResult{Status: StepStatusPending}
	}
	return r
}

// Clone returns a deep copy
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Input = r.Input.Clone()
	c.Output = r.Output.Clone()
	c.StepOrder = append([]string(nil), r.StepOrder...)
	c.Steps = make(map[string]StepResult, len(r.Steps))
	for k, v := range r.Steps {
		c.Steps[k] = v.clone()
	}
	return &c
}

// Update is a partial change merged into a stored run. Only the named steps
// are touched; a nil Status leaves the run status alone.
type Update struct {
	Status *RunStatus
	Steps  map[string]StepResult
	Output types.Payload
}

// StatusUpdate changes only the run status.
func StatusUpdate(s RunStatus) Update {
	return Update{Status: &s}
}

// StepUpdate changes only one step.
func StepUpdate(step string, res StepResult) Update {
	return Update{Steps: map[string]StepResult{step: res}}
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Status == nil && len(u.Steps) == 0 && u.Output == nil
}

// Apply merges u into r. It validates everything first and leaves r
// untouched on error: a terminal step result is never replaced by a
// different one, and terminal run statuses admit no transition.
func (r *Run) Apply(u Update) error {
	for name, next := range u.Steps {
		cur, ok := r.Steps[name]
		if !ok {
			return types.Errorf(types.ErrInvalidTransition, "run %s has no step %q", r.ID, name)
		}
		if cur.Status.IsTerminal() && cur.Status != next.Status {
			return types.Errorf(types.ErrInvalidTransition,
				"step %q of run %s is already %s, cannot become %s", name, r.ID, cur.Status, next.Status)
		}
	}
	if u.Status != nil && !r.Status.CanTransition(*u.Status) {
		return types.Errorf(types.ErrInvalidTransition,
			"run %s cannot move from %s to %s", r.ID, r.Status, *u.Status)
	}

	for name, next := range u.Steps {
		cur := r.Steps[name]
		if cur.Status.IsTerminal() {
			continue
		}
		r.Steps[name] = next.clone()
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Output != nil {
		r.Output = u.Output.Clone()
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// FirstPending returns the first step in declaration order that is not
// terminal, or "" when all are.
func (r *Run) FirstPending() string {
	for _, name := range r.StepOrder {
		if !r.Steps[name].Status.IsTerminal() {
			return name
		}
	}
	return ""
}

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,190}$`)

// ValidateRunID checks that id is usable as a key and a file name.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("%w: run id %q", ErrInvalidInput, id)
	}
	return nil
}
