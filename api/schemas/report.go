package schemas

import (
	"fmt"
	"time"
)

// Verdict is the summary judgment of a run.
type Verdict string

const (
	VerdictPassed   Verdict = "passed"
	VerdictDegraded Verdict = "degraded"
	VerdictFailed   Verdict = "failed"
)

// String implements fmt.Stringer.
func (v Verdict) String() string { return string(v) }

// ComputeVerdict applies the run verdict rule: failed when a step errored
// without continueOnFailure or the run timed out, degraded when any warning or
// error was recorded, passed otherwise.
func ComputeVerdict(outcomes []StepOutcome, timedOut bool) Verdict {
	if timedOut {
		return VerdictFailed
	}
	degraded := false
	for _, o := range outcomes {
		if o.Fatal() {
			return VerdictFailed
		}
		if o.Status == StatusWarning || o.Status == StatusError {
			degraded = true
		}
	}
	if degraded {
		return VerdictDegraded
	}
	return VerdictPassed
}

// RunReport is the complete result of one scenario execution.
type RunReport struct {
	ID         string
	Scenario   string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepOutcome
	Events     []Event
	Verdict    Verdict
	Errors     []string
	Warnings   []string
	TimedOut   bool
}

// Finalize derives the verdict and the error/warning message lists from the
// recorded outcomes. It is idempotent.
func (r *RunReport) Finalize() {
	r.Errors = r.Errors[:0]
	r.Warnings = r.Warnings[:0]
	for _, o := range r.Steps {
		switch o.Status {
		case StatusError:
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", o.Name, o.Message))
		case StatusWarning:
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", o.Name, o.Message))
		}
	}
	if r.TimedOut {
		r.Errors = append(r.Errors, fmt.Sprintf("run: %v", ErrRunTimeout))
	}
	r.Verdict = ComputeVerdict(r.Steps, r.TimedOut)
}

// Counts tallies outcomes by status.
func (r *RunReport) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int, 4)
	for _, o := range r.Steps {
		counts[o.Status]++
	}
	return counts
}

// Duration returns the wall time of the whole run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// -- Serializable Projection --

// StepDocument is the serializable form of a StepOutcome.
type StepDocument struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Value      string `json:"value,omitempty"`
	Matched    string `json:"matched,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	Events     []int  `json:"events,omitempty"`
}

// ReportDocument is the caller-facing projection of a RunReport, suitable for
// JSON files or terminal rendering.
type ReportDocument struct {
	ID         string         `json:"id"`
	Scenario   string         `json:"scenario"`
	StartedAt  string         `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Verdict    string         `json:"verdict"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	Steps      []StepDocument `json:"steps"`
	Events     []Event        `json:"events"`
	Errors     []string       `json:"errors"`
	Warnings   []string       `json:"warnings"`
}

// Document projects the report into its serializable structure.
func (r *RunReport) Document() ReportDocument {
	doc := ReportDocument{
		ID:         r.ID,
		Scenario:   r.Scenario,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: r.Duration().Milliseconds(),
		Verdict:    string(r.Verdict),
		TimedOut:   r.TimedOut,
		Steps:      make([]StepDocument, 0, len(r.Steps)),
		Events:     make([]Event, len(r.Events)),
		Errors:     append([]string{}, r.Errors...),
		Warnings:   append([]string{}, r.Warnings...),
	}
	copy(doc.Events, r.Events)
	for _, o := range r.Steps {
		sd := StepDocument{
			Index:      o.Index,
			Name:       o.Name,
			Kind:       string(o.Kind),
			Status:     string(o.Status),
			Message:    o.Message,
			ErrorKind:  string(o.ErrorKind),
			StartedAt:  o.StartedAt.UTC().Format(time.RFC3339Nano),
			DurationMS: o.Duration().Milliseconds(),
			Events:     o.Events,
		}
		if o.Value != nil {
			sd.Value = o.Value.String()
		}
		if o.Matched != nil {
			sd.Matched = o.Matched.String()
		}
		doc.Steps = append(doc.Steps, sd)
	}
	return doc
}
