// File: internal/orchestrator/orchestrator.go
// Description: Runs a scenario end to end on one page. It owns the collector
// for the run, drives the executor step by step and assembles the RunReport.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
	"github.com/xkilldash9x/widgetprobe/internal/collector"
	"github.com/xkilldash9x/widgetprobe/internal/executor"
)

const defaultStopTimeout = 5 * time.Second

// StepObserver is notified after every executed step, in order.
type StepObserver func(ctx context.Context, step schemas.Step, outcome schemas.StepOutcome)

// Config holds run-level limits.
type Config struct {
	// RunTimeout bounds the whole scenario. Zero disables the limit.
	RunTimeout time.Duration
	// StopTimeout bounds how long the collector may wait for pending bodies.
	StopTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStepObserver registers an observer.
func WithStepObserver(obs StepObserver) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithIDGenerator replaces the run ID source.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// Orchestrator manages the lifecycle of a single scenario run.
// It is injected with a configured executor and collector settings.
type Orchestrator struct {
	logger       *zap.Logger
	executor     *executor.Executor
	collectorCfg collector.Config
	cfg          Config
	observers    []StepObserver
	newID        func() string
}

// New creates an Orchestrator.
func New(logger *zap.Logger, exec *executor.Executor, collectorCfg collector.Config, cfg Config, opts ...Option) (*Orchestrator, error) {
	if logger == nil || exec == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	o := &Orchestrator{
		logger:       logger.Named("orchestrator"),
		executor:     exec,
		collectorCfg: collectorCfg,
		cfg:          cfg,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the scenario on page and always returns a finalized report.
// Step failures, timeouts and cancellation are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context, page schemas.Page, sc schemas.Scenario) *schemas.RunReport {
	report := &schemas.RunReport{
		ID:        o.newID(),
		Scenario:  sc.Name,
		StartedAt: page.Now(),
		Steps:     make([]schemas.StepOutcome, 0, len(sc.Steps)),
	}
	logger := o.logger.With(zap.String("run_id", report.ID), zap.String("scenario", sc.Name))
	logger.Info("Run starting.", zap.Int("steps", len(sc.Steps)))

	col := collector.New(logger, o.collectorCfg)
	var signals executor.SignalWaiter
	if err := col.Start(page, sc.Patterns); err != nil {
		logger.Error("Event collector could not start, running without events.", zap.Error(err))
		col = nil
	} else {
		signals = col
	}
	state := executor.NewRunState(page, signals)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
	}
	defer cancel()

	for i, step := range sc.Steps {
		if err := o.interruption(ctx, runCtx); err != nil {
			report.TimedOut = true
			o.skipRemaining(report, sc.Steps, i, err.Error(), page.Now())
			break
		}

		out := o.executor.Execute(runCtx, i, step, state)
		interrupted := o.interruption(ctx, runCtx)
		if interrupted != nil {
			report.TimedOut = true
			// A step that completed keeps its outcome; one that did not was
			// cut short and its own classification is meaningless.
			if out.Status != schemas.StatusSuccess {
				out.Status = schemas.StatusError
				out.ErrorKind = schemas.KindRunTimeout
				out.Message = interrupted.Error()
			}
		}
		report.Steps = append(report.Steps, out)
		o.notify(runCtx, logger, step, out)

		if interrupted != nil {
			o.skipRemaining(report, sc.Steps, i+1, interrupted.Error(), page.Now())
			break
		}
		if executor.ShouldAbort(step, out) {
			o.skipRemaining(report, sc.Steps, i+1, fmt.Sprintf("aborted after step %q failed", out.Name), page.Now())
			break
		}
	}

	if col != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), o.cfg.StopTimeout)
		report.Events = col.Stop(stopCtx)
		stopCancel()
	}
	Correlate(report.Steps, report.Events)

	report.FinishedAt = page.Now()
	report.Finalize()

	counts := report.Counts()
	logger.Info("Run finished.",
		zap.String("verdict", report.Verdict.String()),
		zap.Duration("duration", report.Duration()),
		zap.Int("success", counts[schemas.StatusSuccess]),
		zap.Int("warnings", counts[schemas.StatusWarning]),
		zap.Int("errors", counts[schemas.StatusError]),
		zap.Int("skipped", counts[schemas.StatusSkipped]),
		zap.Int("events", len(report.Events)))
	return report
}

// interruption reports why the run must stop, if it must.
func (o *Orchestrator) interruption(parent, runCtx context.Context) error {
	if runCtx.Err() == nil {
		return nil
	}
	if parent.Err() != nil {
		return fmt.Errorf("%w: run cancelled: %v", schemas.ErrRunTimeout, parent.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", schemas.ErrRunTimeout, o.cfg.RunTimeout)
	}
	return fmt.Errorf("%w: %v", schemas.ErrRunTimeout, runCtx.Err())
}

func (o *Orchestrator) skipRemaining(report *schemas.RunReport, steps []schemas.Step, from int, reason string, at time.Time) {
	for j := from; j < len(steps); j++ {
		report.Steps = append(report.Steps, schemas.SkippedOutcome(j, steps[j], reason, at))
	}
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, step schemas.Step, out schemas.StepOutcome) {
	for _, obs := range o.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Step observer panicked.", zap.Any("panic", r))
				}
			}()
			obs(ctx, step, out)
		}()
	}
}

// Correlate assigns each event to the executed step whose [start, end] window
// contains its timestamp and records the event on that step. Events outside
// every window keep StepIndex -1. Skipped steps own no window.
func Correlate(steps []schemas.StepOutcome, events []schemas.Event) {
	for i := range events {
		ev := &events[i]
		ev.StepIndex = -1
		for j := range steps {
			s := &steps[j]
			if s.Status == schemas.StatusSkipped {
				continue
			}
			if ev.Timestamp.Before(s.StartedAt) || ev.Timestamp.After(s.FinishedAt) {
				continue
			}
			ev.StepIndex = s.Index
			s.Events = append(s.Events, ev.Seq)
			break
		}
	}
}
