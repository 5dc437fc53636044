package schemas

import "time"

// StepStatus is the lifecycle state of a step execution.
type StepStatus string

const (
	StatusPending StepStatus = "pending"
	StatusRunning StepStatus = "running"
	StatusSuccess StepStatus = "success"
	StatusWarning StepStatus = "warning"
	StatusError   StepStatus = "error"
	StatusSkipped StepStatus = "skipped"
)

// String implements fmt.Stringer.
func (s StepStatus) String() string { return string(s) }

// IsTerminal returns true once the status can no longer change.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusError, StatusSkipped:
		return true
	}
	return false
}

// StepOutcome is the recorded result of executing one step.
type StepOutcome struct {
	Index  int        `json:"index"`
	Name   string     `json:"name"`
	Kind   StepKind   `json:"kind"`
	Status StepStatus `json:"status"`

	Message   string    `json:"message,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Value     *Value    `json:"value,omitempty"`
	// Matched is the candidate that resolved the target, if any.
	Matched *SelectorCandidate `json:"matched,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ContinueOnFailure bool `json:"continue_on_failure"`
	// Events holds the sequence numbers of events correlated to this step.
	Events []int `json:"events,omitempty"`
}

// Duration returns the wall time the step took.
func (o StepOutcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() || o.StartedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Fatal reports whether the outcome aborts the scenario.
func (o StepOutcome) Fatal() bool {
	return o.Status == StatusError && !o.ContinueOnFailure
}

// SkippedOutcome builds the outcome for a step that never ran.
func SkippedOutcome(index int, step Step, reason string, at time.Time) StepOutcome {
	return StepOutcome{
		Index:             index,
		Name:              step.Label(),
		Kind:              step.Kind,
		Status:            StatusSkipped,
		Message:           reason,
		StartedAt:         at,
		FinishedAt:        at,
		ContinueOnFailure: step.ContinueOnFailure,
	}
}
