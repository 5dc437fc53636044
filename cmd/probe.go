package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
	"github.com/xkilldash9x/widgetprobe/internal/browser"
	"github.com/xkilldash9x/widgetprobe/internal/browser/static"
	"github.com/xkilldash9x/widgetprobe/internal/collector"
	"github.com/xkilldash9x/widgetprobe/internal/config"
	"github.com/xkilldash9x/widgetprobe/internal/executor"
	"github.com/xkilldash9x/widgetprobe/internal/metrics"
	"github.com/xkilldash9x/widgetprobe/internal/orchestrator"
	"github.com/xkilldash9x/widgetprobe/internal/reporting"
	"github.com/xkilldash9x/widgetprobe/internal/resolver"
	"github.com/xkilldash9x/widgetprobe/internal/scenario"
	"github.com/xkilldash9x/widgetprobe/internal/store"
)

// probeOptions are the run settings taken from flags.
type probeOptions struct {
	scenarioPath string
	url          string
	staticPath   string
	strict       bool
}

// prober holds the components shared by every run of one command
// invocation. watch reuses a single prober for all its ticks.
type prober struct {
	cfg      config.Interface
	logger   *zap.Logger
	opts     probeOptions
	scenario schemas.Scenario
	out      io.Writer

	manager  *browser.Manager
	recorder *metrics.Recorder
	history  *store.Store
	dbPool   *pgxpool.Pool
}

// screenshotter is implemented by pages backed by a real browser.
type screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

func loadScenario(opts probeOptions) (schemas.Scenario, error) {
	switch {
	case opts.scenarioPath != "":
		sc, err := scenario.Load(opts.scenarioPath)
		if err != nil {
			return schemas.Scenario{}, err
		}
		return *sc, nil
	case opts.url != "":
		sc := scenario.Builtin(opts.url)
		if err := scenario.Validate(&sc); err != nil {
			return schemas.Scenario{}, err
		}
		return sc, nil
	default:
		return schemas.Scenario{}, fmt.Errorf("either --scenario or --url is required")
	}
}

// newProber loads the scenario and sets up the optional history store.
// The browser is started lazily by the first run.
func newProber(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts probeOptions, out io.Writer) (*prober, error) {
	sc, err := loadScenario(opts)
	if err != nil {
		return nil, err
	}
	p := &prober{
		cfg:      cfg,
		logger:   logger,
		opts:     opts,
		scenario: sc,
		out:      out,
		recorder: metrics.New(),
	}
	if opts.staticPath == "" {
		p.manager = browser.NewManager(cfg.Browser(), logger)
	}

	if url := cfg.Store().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		p.dbPool, p.history = pool, st
	}
	return p, nil
}

// Close releases the browser and the database pool.
func (p *prober) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if p.manager != nil {
		if err := p.manager.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if p.dbPool != nil {
		p.dbPool.Close()
	}
}

// openPage returns the page for one run and its release function.
func (p *prober) openPage(ctx context.Context) (schemas.Page, func(), error) {
	if p.opts.staticPath != "" {
		page, err := static.Open(p.opts.staticPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open static page: %w", err)
		}
		return page, func() {}, nil
	}
	page, err := p.manager.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return page, func() {
		if err := p.manager.Release(page); err != nil {
			p.logger.Debug("Error closing tab", zap.Error(err))
		}
	}, nil
}

// probe executes the scenario once, writes the artifacts and the terminal
// summary, and records the run in metrics and history.
func (p *prober) probe(ctx context.Context) (*schemas.RunReport, error) {
	page, release, err := p.openPage(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	runCfg := p.cfg.Run()
	artifacts := p.cfg.Artifacts()
	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID))

	res := resolver.New(logger, resolver.WithPollInterval(runCfg.PollInterval))
	exec := executor.New(logger, res, executor.Config{
		ResolveTimeout: runCfg.ResolveTimeout,
		SignalTimeout:  runCfg.SignalTimeout,
		ActionTimeout:  p.cfg.Browser().NavigationTimeout,
		DefaultWait:    runCfg.DefaultWait,
	})
	col := p.cfg.Collector()
	orch, err := orchestrator.New(logger, exec,
		collector.Config{
			Patterns:         col.Patterns,
			AlwaysKeepLevels: col.AlwaysKeepLevels,
			MaxBodyBytes:     col.MaxBodyBytes,
			BodyTimeout:      col.BodyTimeout,
			CaptureBodies:    col.CaptureBodies,
		},
		orchestrator.Config{RunTimeout: runCfg.Timeout},
		orchestrator.WithIDGenerator(func() string { return runID }),
		orchestrator.WithStepObserver(p.recorder.ObserveStep),
		orchestrator.WithStepObserver(p.screenshotObserver(page, artifacts, runID)),
	)
	if err != nil {
		return nil, err
	}

	report := orch.Run(ctx, page, p.scenario)
	p.recorder.ObserveRun(report)

	// Artifacts and history are written even when the run was interrupted.
	outCtx := context.WithoutCancel(ctx)
	if artifacts.Dir != "" && len(artifacts.Formats) > 0 {
		paths, err := reporting.WriteArtifacts(outCtx, artifacts.Dir, report, artifacts.Formats)
		if err != nil {
			logger.Error("Failed to write report artifacts", zap.Error(err))
		} else {
			logger.Info("Report artifacts written", zap.Strings("paths", paths))
		}
	}
	if err := p.summarize(report); err != nil {
		logger.Warn("Failed to print run summary", zap.Error(err))
	}
	if p.history != nil {
		if err := p.history.SaveReport(outCtx, report); err != nil {
			logger.Error("Failed to save run history", zap.Error(err))
		}
	}
	if m := p.cfg.Metrics(); m.PushgatewayURL != "" {
		if err := p.recorder.Push(outCtx, m.PushgatewayURL, m.Job, p.scenario.Name); err != nil {
			logger.Warn("Failed to push metrics", zap.Error(err))
		}
	}
	return report, nil
}

func (p *prober) summarize(report *schemas.RunReport) error {
	r, err := reporting.NewForStream("text", p.out)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Write(report)
}

// screenshotObserver captures the page after every step that did not
// succeed cleanly. Pages without screenshot support are ignored.
func (p *prober) screenshotObserver(page schemas.Page, artifacts config.ArtifactsConfig, runID string) orchestrator.StepObserver {
	shooter, ok := page.(screenshotter)
	if !ok || !artifacts.Screenshots || artifacts.Dir == "" {
		return nil
	}
	dir := reporting.RunDir(artifacts.Dir, runID)
	return func(ctx context.Context, step schemas.Step, out schemas.StepOutcome) {
		if out.Status != schemas.StatusError && out.Status != schemas.StatusWarning {
			return
		}
		shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		buf, err := shooter.Screenshot(shotCtx)
		if err != nil {
			p.logger.Warn("Screenshot failed", zap.Int("step", out.Index), zap.Error(err))
			return
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			p.logger.Warn("Could not create artifact directory", zap.Error(err))
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("step-%02d.png", out.Index))
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			p.logger.Warn("Could not write screenshot", zap.String("path", path), zap.Error(err))
		}
	}
}

// verdictError maps a verdict to the process outcome.
func verdictError(report *schemas.RunReport, strict bool) error {
	switch {
	case report.Verdict == schemas.VerdictFailed:
		return &ExitError{Code: 1, Verdict: report.Verdict}
	case report.Verdict == schemas.VerdictDegraded && strict:
		return &ExitError{Code: 2, Verdict: report.Verdict}
	}
	return nil
}

// ExitError reports a run whose verdict should fail the process.
type ExitError struct {
	Code    int
	Verdict schemas.Verdict
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("run verdict %s", e.Verdict)
}
