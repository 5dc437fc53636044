package schemas

import (
	"errors"
	"fmt"
)

// -- Error Taxonomy --

var (
	// ErrElementNotFound means no selector candidate produced a visible element in time.
	ErrElementNotFound = errors.New("element not found")
	// ErrStepExecution means the browser rejected an action (detached node, navigation failure).
	ErrStepExecution = errors.New("step execution failed")
	// ErrAssertionMismatch means observed behavior did not match the declared expectation.
	ErrAssertionMismatch = errors.New("assertion mismatch")
	// ErrCollectorParse means a structured response body could not be parsed.
	ErrCollectorParse = errors.New("response body not parseable")
	// ErrRunTimeout means the scenario exceeded its allotted time.
	ErrRunTimeout = errors.New("run timeout")
	// ErrSignalTimeout means an awaited network or console signal never arrived.
	ErrSignalTimeout = errors.New("signal not observed")
)

// ErrorKind is the reportable name of a taxonomy error.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindElementNotFound  ErrorKind = "ElementNotFound"
	KindStepExecution    ErrorKind = "StepExecutionError"
	KindAssertion        ErrorKind = "AssertionMismatch"
	KindCollectorParse   ErrorKind = "CollectorParseError"
	KindRunTimeout       ErrorKind = "RunTimeout"
	KindSignalTimeout    ErrorKind = "SignalTimeout"
	KindDependencyFailed ErrorKind = "DependencyUnresolved"
)

// KindOf maps an error onto the taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRunTimeout):
		return KindRunTimeout
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrAssertionMismatch):
		return KindAssertion
	case errors.Is(err, ErrCollectorParse):
		return KindCollectorParse
	case errors.Is(err, ErrSignalTimeout):
		return KindSignalTimeout
	default:
		return KindStepExecution
	}
}

// StepError ties a taxonomy error to the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NotFoundError builds the error returned when resolution gives up.
func NotFoundError(candidates []SelectorCandidate) error {
	return fmt.Errorf("%w: tried %d candidate(s)%s", ErrElementNotFound, len(candidates), describeCandidates(candidates))
}

func describeCandidates(candidates []SelectorCandidate) string {
	if len(candidates) == 0 {
		return ""
	}
	const max = 3
	s := " ["
	for i, c := range candidates {
		if i == max {
			s += fmt.Sprintf(", +%d more", len(candidates)-max)
			break
		}
		if i > 0 {
			s += ", "
		}
		s += c.String()
	}
	return s + "]"
}
