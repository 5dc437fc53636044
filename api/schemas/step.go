package schemas

import "time"

// StepKind identifies what a step does.
type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepLocate   StepKind = "locate"
	StepFill     StepKind = "fill"
	StepClick    StepKind = "click"
	StepWait     StepKind = "wait"
	StepCount    StepKind = "count"
	StepAssert   StepKind = "assert"
)

// String implements fmt.Stringer.
func (k StepKind) String() string { return string(k) }

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepNavigate, StepLocate, StepFill, StepClick, StepWait, StepCount, StepAssert:
		return true
	}
	return false
}

// Targeted reports whether the kind acts on a resolved element.
func (k StepKind) Targeted() bool {
	return k == StepLocate || k == StepFill || k == StepClick
}

// Assertion compares a captured value with another captured value or a literal.
type Assertion struct {
	Left       string     `json:"left" yaml:"left" validate:"required"`
	Right      string     `json:"right,omitempty" yaml:"right,omitempty"`
	Literal    *Value     `json:"literal,omitempty" yaml:"literal,omitempty"`
	Comparator Comparator `json:"comparator" yaml:"comparator" validate:"required"`
	// Required escalates a mismatch from a warning to an error.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// Step is one typed action of a scenario. Steps are immutable once built.
type Step struct {
	Name string   `json:"name" yaml:"name"`
	Kind StepKind `json:"kind" yaml:"kind" validate:"required"`

	// navigate
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// locate, fill, click, count
	Targets []SelectorCandidate `json:"targets,omitempty" yaml:"targets,omitempty" validate:"dive"`
	// Ref names an earlier locate step whose candidates a target-less fill or
	// click re-resolves. Empty means the most recent locate step.
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`

	// fill
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// wait
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	WaitFor  string        `json:"wait_for,omitempty" yaml:"wait_for,omitempty"`

	// count
	CaptureAs string `json:"capture_as,omitempty" yaml:"capture_as,omitempty"`

	// assert
	Assert *Assertion `json:"assert,omitempty" yaml:"assert,omitempty"`

	ContinueOnFailure bool `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
	// Timeout bounds element resolution and signal waits. Zero uses the run default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Label returns the step name, falling back to its kind.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.Kind)
}

// Scenario is an ordered list of steps plus the collector interest patterns.
type Scenario struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Steps    []Step   `json:"steps" yaml:"steps" validate:"dive"`
}
