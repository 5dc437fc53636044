// Package executor runs single scenario steps against a page and turns every
// result, including failures, into a StepOutcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
	"github.com/xkilldash9x/widgetprobe/internal/resolver"
)

// Config holds the step-level timing defaults.
type Config struct {
	// ResolveTimeout bounds element resolution when a step sets no Timeout.
	ResolveTimeout time.Duration
	// SignalTimeout bounds signal waits when a step sets no Timeout.
	SignalTimeout time.Duration
	// ActionTimeout bounds navigate, fill and click calls.
	ActionTimeout time.Duration
	// DefaultWait is the sleep of a wait step with neither Duration nor WaitFor.
	DefaultWait time.Duration
}

// DefaultConfig returns the step timing defaults.
func DefaultConfig() Config {
	return Config{
		ResolveTimeout: 5 * time.Second,
		SignalTimeout:  10 * time.Second,
		ActionTimeout:  30 * time.Second,
		DefaultWait:    time.Second,
	}
}

// Executor runs steps. It keeps no per-run state and can be shared across runs.
type Executor struct {
	logger   *zap.Logger
	resolver *resolver.Resolver
	cfg      Config
}

// New creates an executor.
func New(logger *zap.Logger, res *resolver.Resolver, cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = def.SignalTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.DefaultWait < 0 {
		cfg.DefaultWait = 0
	}
	return &Executor{
		logger:   logger.Named("executor"),
		resolver: res,
		cfg:      cfg,
	}
}

// ShouldAbort reports whether the run must stop after this outcome.
func ShouldAbort(step schemas.Step, outcome schemas.StepOutcome) bool {
	return outcome.Status == schemas.StatusError && !step.ContinueOnFailure
}

// Execute runs one step and always returns a terminal outcome. Failures are
// classified into the outcome; nothing is retried.
func (e *Executor) Execute(ctx context.Context, index int, step schemas.Step, state *RunState) (out schemas.StepOutcome) {
	out = schemas.StepOutcome{
		Index:             index,
		Name:              step.Label(),
		Kind:              step.Kind,
		Status:            schemas.StatusRunning,
		StartedAt:         state.Page.Now(),
		ContinueOnFailure: step.ContinueOnFailure,
	}
	logger := e.logger.With(zap.Int("step", index), zap.String("name", out.Name), zap.String("kind", string(step.Kind)))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic during step execution.", zap.Any("panic", r), zap.Stack("stack"))
			e.fail(&out, fmt.Errorf("%w: panic: %v", schemas.ErrStepExecution, r))
		}
		out.FinishedAt = state.Page.Now()
		state.prevStart = out.StartedAt
		logger.Debug("Step finished.", zap.String("status", string(out.Status)), zap.String("message", out.Message))
	}()

	switch step.Kind {
	case schemas.StepNavigate:
		e.navigate(ctx, step, state, &out)
	case schemas.StepLocate:
		e.locate(ctx, step, state, &out)
	case schemas.StepFill, schemas.StepClick:
		e.act(ctx, step, state, &out)
	case schemas.StepWait:
		e.wait(ctx, step, state, &out)
	case schemas.StepCount:
		e.count(ctx, step, state, &out)
	case schemas.StepAssert:
		e.assert(step, state, &out)
	default:
		e.fail(&out, fmt.Errorf("%w: unknown step kind %q", schemas.ErrStepExecution, step.Kind))
	}
	return out
}

// -- Outcome Helpers --

func (e *Executor) succeed(out *schemas.StepOutcome, format string, args ...any) {
	out.Status = schemas.StatusSuccess
	out.Message = fmt.Sprintf(format, args...)
	out.ErrorKind = schemas.KindNone
}

// fail records an error outcome.
func (e *Executor) fail(out *schemas.StepOutcome, err error) {
	out.Status = schemas.StatusError
	out.Message = err.Error()
	out.ErrorKind = schemas.KindOf(err)
}

// tolerate records a recoverable failure: a warning when the step may fail,
// an error otherwise.
func (e *Executor) tolerate(step schemas.Step, out *schemas.StepOutcome, err error) {
	e.fail(out, err)
	if step.ContinueOnFailure {
		out.Status = schemas.StatusWarning
	}
}

func (e *Executor) resolveTimeout(step schemas.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return e.cfg.ResolveTimeout
}

// -- Step Kinds --

func (e *Executor) navigate(ctx context.Context, step schemas.Step, state *RunState, out *schemas.StepOutcome) {
	navCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	if err := state.Page.Navigate(navCtx, step.URL); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("navigation to %s timed out after %v: %w", step.URL, e.cfg.ActionTimeout, err)
		}
		e.fail(out, fmt.Errorf("%w: navigate: %w", schemas.ErrStepExecution, err))
		return
	}
	e.succeed(out, "navigated to %s", step.URL)
}

func (e *Executor) locate(ctx context.Context, step schemas.Step, state *RunState, out *schemas.StepOutcome) {
	el, err := e.resolver.Resolve(ctx, state.Page, step.Targets, e.resolveTimeout(step))
	state.recordLocate(step, err == nil)
	if err != nil {
		e.tolerate(step, out, err)
		return
	}
	matched := el.Candidate
	out.Matched = &matched
	e.succeed(out, "resolved %s via %s", el.Handle.String(), matched.String())
}

func (e *Executor) act(ctx context.Context, step schemas.Step, state *RunState, out *schemas.StepOutcome) {
	targets := step.Targets
	if len(targets) == 0 {
		dep, ok := state.dependency(step.Ref)
		if !ok || !dep.resolved {
			out.Status = schemas.StatusSkipped
			out.ErrorKind = schemas.KindDependencyFailed
			out.Message = "depends on unresolved element"
			if step.Ref != "" {
				out.Message += fmt.Sprintf(" %q", step.Ref)
			}
			return
		}
		targets = dep.candidates
	}

	el, err := e.resolver.Resolve(ctx, state.Page, targets, e.resolveTimeout(step))
	if err != nil {
		e.tolerate(step, out, err)
		return
	}
	matched := el.Candidate
	out.Matched = &matched

	actCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	if step.Kind == schemas.StepFill {
		if err := state.Page.Fill(actCtx, el.Handle, step.Text); err != nil {
			e.fail(out, fmt.Errorf("%w: fill %s: %w", schemas.ErrStepExecution, el.Handle.String(), err))
			return
		}
		e.succeed(out, "filled %s", el.Handle.String())
		return
	}
	if err := state.Page.Click(actCtx, el.Handle); err != nil {
		e.fail(out, fmt.Errorf("%w: click %s: %w", schemas.ErrStepExecution, el.Handle.String(), err))
		return
	}
	e.succeed(out, "clicked %s", el.Handle.String())
}

func (e *Executor) wait(ctx context.Context, step schemas.Step, state *RunState, out *schemas.StepOutcome) {
	if step.WaitFor != "" {
		if state.Signals == nil {
			e.fail(out, fmt.Errorf("%w: no signal source attached for %q", schemas.ErrStepExecution, step.WaitFor))
			return
		}
		timeout := step.Timeout
		if timeout <= 0 {
			timeout = e.cfg.SignalTimeout
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		url, err := state.Signals.WaitFor(waitCtx, step.WaitFor, state.signalsSince(out.StartedAt))
		if err != nil {
			if errors.Is(err, schemas.ErrSignalTimeout) {
				e.tolerate(step, out, err)
				return
			}
			e.fail(out, fmt.Errorf("%w: %w", schemas.ErrStepExecution, err))
			return
		}
		out.Value = schemas.TextValue(url)
		state.SetCapture(step.CaptureAs, out.Value)
		e.succeed(out, "observed %s", url)
		return
	}

	d := step.Duration
	if d <= 0 {
		d = e.cfg.DefaultWait
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		e.succeed(out, "waited %v", d)
	case <-ctx.Done():
		e.fail(out, fmt.Errorf("%w: wait interrupted: %w", schemas.ErrStepExecution, ctx.Err()))
	}
}

func (e *Executor) count(ctx context.Context, step schemas.Step, state *RunState, out *schemas.StepOutcome) {
	n, matched, err := e.resolver.Count(ctx, state.Page, step.Targets)
	if err != nil {
		e.fail(out, fmt.Errorf("%w: count: %w", schemas.ErrStepExecution, err))
		return
	}
	out.Value = schemas.NumberValue(float64(n))
	out.Matched = matched
	state.SetCapture(step.CaptureAs, out.Value)
	e.succeed(out, "counted %d element(s)", n)
}

func (e *Executor) assert(step schemas.Step, state *RunState, out *schemas.StepOutcome) {
	a := step.Assert
	if a == nil {
		e.fail(out, fmt.Errorf("%w: assert step without assertion", schemas.ErrStepExecution))
		return
	}

	mismatch := func(err error) {
		e.fail(out, err)
		if !a.Required {
			out.Status = schemas.StatusWarning
		}
	}

	left, ok := state.Capture(a.Left)
	if !ok {
		mismatch(fmt.Errorf("%w: no captured value %q", schemas.ErrAssertionMismatch, a.Left))
		return
	}
	right := a.Literal
	rightName := right.String()
	if a.Right != "" {
		rightName = a.Right
		right, ok = state.Capture(a.Right)
		if !ok {
			mismatch(fmt.Errorf("%w: no captured value %q", schemas.ErrAssertionMismatch, a.Right))
			return
		}
	}
	if right == nil {
		mismatch(fmt.Errorf("%w: assertion has no right-hand operand", schemas.ErrAssertionMismatch))
		return
	}

	ok, err := a.Comparator.Compare(left, right)
	if err != nil {
		mismatch(fmt.Errorf("%w: %w", schemas.ErrAssertionMismatch, err))
		return
	}
	if !ok {
		mismatch(fmt.Errorf("%w: expected %s (%s) %s %s (%s)", schemas.ErrAssertionMismatch,
			a.Left, left.String(), a.Comparator, rightName, right.String()))
		return
	}
	out.Value = schemas.TextValue("true")
	e.succeed(out, "%s %s %s holds (%s vs %s)", a.Left, a.Comparator, rightName, left.String(), right.String())
}
