package persistence

import (
	"time"

	"github.com/BaSui01/careerflow/types"
)

// StepFailure describes one failed step of a run
type StepFailure struct {
	Step        string          `json:"step"`
	ErrorKind   types.ErrorCode `json:"error_kind"`
	ErrorDetail string          `json:"error_detail"`
	Attempts    int             `json:"attempts,omitempty"`
	Optional    bool            `json:"optional,omitempty"`
}

// FailureSummary explains why a run did not complete
type FailureSummary struct {
	Failed  []StepFailure `json:"failed"`
	Skipped []string      `json:"skipped"`
}

// Summary is the operator-facing view of a run
type Summary struct {
	RunID      string             `json:"run_id"`
	Workflow   string             `json:"workflow"`
	Status     RunStatus          `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Duration   time.Duration      `json:"duration"`
	StepCounts map[StepStatus]int `json:"step_counts"`
	Steps      []StepView         `json:"steps"`
	Output     types.Payload      `json:"output,omitempty"`
	Failure    *FailureSummary    `json:"failure,omitempty"`
}

// StepView is a single row of Summary.Steps
type StepView struct {
	Name      string        `json:"name"`
	Status    StepStatus    `json:"status"`
	Attempts  int           `json:"attempts,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// Summary builds the structured view of r. Failure is set for runs that
// are failed or cancelled and lists steps in declaration order.
func (r *Run) Summary() Summary {
	s := Summary{
		RunID:      r.ID,
		Workflow:   r.Workflow,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Duration:   r.UpdatedAt.Sub(r.CreatedAt),
		StepCounts: make(map[StepStatus]int),
	}

	var failure FailureSummary
	for _, name := range r.StepOrder {
		st := r.Steps[name]
		s.StepCounts[st.Status]++

		view := StepView{Name: name, Status: st.Status, Attempts: st.Attempts, ErrorKind: string(st.ErrorKind)}
		if st.StartedAt != nil && st.CompletedAt != nil {
			view.Duration = st.CompletedAt.Sub(*st.StartedAt)
		}
		s.Steps = append(s.Steps, view)

		switch st.Status {
		case StepStatusFailed:
			failure.Failed = append(failure.Failed, StepFailure{
				Step:        name,
				ErrorKind:   st.ErrorKind,
				ErrorDetail: st.ErrorDetail,
				Attempts:    st.Attempts,
				Optional:    st.Optional,
			})
		case StepStatusSkipped:
			failure.Skipped = append(failure.Skipped, name)
		}
	}

	switch r.Status {
	case RunStatusCompleted:
		s.Output = r.Output.Clone()
	case RunStatusFailed, RunStatusCancelled:
		s.Failure = &failure
	}
	return s
}
