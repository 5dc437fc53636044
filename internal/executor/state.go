package executor

import (
	"context"
	"time"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// SignalWaiter blocks until a page signal matching pattern fired at or after
// since. The collector implements it.
type SignalWaiter interface {
	WaitFor(ctx context.Context, pattern string, since time.Time) (string, error)
}

type locateRecord struct {
	candidates []schemas.SelectorCandidate
	resolved   bool
}

// RunState carries what steps of one run share: the page, captured values
// and the record of earlier locate steps. It belongs to a single run.
type RunState struct {
	Page    schemas.Page
	Signals SignalWaiter

	captures   map[string]*schemas.Value
	locates    map[string]locateRecord
	lastLocate *locateRecord
	// prevStart is when the previously executed step began.
	prevStart time.Time
}

// NewRunState creates the state for one run. signals may be nil when no
// collector is attached; wait steps with a signal pattern then fail.
func NewRunState(page schemas.Page, signals SignalWaiter) *RunState {
	return &RunState{
		Page:     page,
		Signals:  signals,
		captures: make(map[string]*schemas.Value),
		locates:  make(map[string]locateRecord),
	}
}

// Capture returns a captured value by name.
func (s *RunState) Capture(name string) (*schemas.Value, bool) {
	v, ok := s.captures[name]
	return v, ok
}

// SetCapture stores a value under name.
func (s *RunState) SetCapture(name string, v *schemas.Value) {
	if name == "" || v == nil {
		return
	}
	s.captures[name] = v
}

// Captures returns a copy of every captured value.
func (s *RunState) Captures() map[string]*schemas.Value {
	out := make(map[string]*schemas.Value, len(s.captures))
	for k, v := range s.captures {
		out[k] = v
	}
	return out
}

func (s *RunState) recordLocate(step schemas.Step, resolved bool) {
	rec := locateRecord{candidates: step.Targets, resolved: resolved}
	if step.Name != "" {
		s.locates[step.Name] = rec
	}
	s.lastLocate = &rec
}

// signalsSince is the earliest signal time a wait step accepts: the start of
// the step before it, so a response triggered by a preceding click counts.
func (s *RunState) signalsSince(current time.Time) time.Time {
	if s.prevStart.IsZero() {
		return current
	}
	return s.prevStart
}

// dependency returns the locate step a target-less fill or click refers to.
func (s *RunState) dependency(ref string) (locateRecord, bool) {
	if ref != "" {
		rec, ok := s.locates[ref]
		return rec, ok
	}
	if s.lastLocate == nil {
		return locateRecord{}, false
	}
	return *s.lastLocate, true
}
