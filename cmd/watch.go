package cmd

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cronLogger adapts zap to the cron logging interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// newWatchCmd creates the `watch` command, which repeats a run on a schedule
// until interrupted.
func newWatchCmd(e *env) *cobra.Command {
	var (
		opts  probeOptions
		every string
	)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Repeats a scenario on a cron schedule",
		Example: `  widgetprobe watch --url https://blog.example.com/post/1 --every "@every 5m"
  widgetprobe watch --scenario signup.yaml --every "*/15 * * * *"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := cron.ParseStandard(every); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", every, err)
			}

			p, err := newProber(ctx, e.cfg, e.logger, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer p.Close()

			return watch(ctx, e.logger, every, p.tick)
		},
	}

	f := watchCmd.Flags()
	f.StringVarP(&opts.scenarioPath, "scenario", "s", "", "Scenario file (YAML)")
	f.StringVarP(&opts.url, "url", "u", "", "Page URL for the built-in comment-widget scenario")
	f.StringVar(&opts.staticPath, "static", "", "Run against a saved HTML file instead of a browser")
	f.StringVar(&every, "every", "@every 5m", "Cron schedule (standard five fields or @every/@hourly descriptors)")
	watchCmd.MarkFlagsMutuallyExclusive("scenario", "url")
	watchCmd.MarkFlagsOneRequired("scenario", "url")

	return watchCmd
}

// tick runs the scenario once; failures are logged and the schedule goes on.
func (p *prober) tick(ctx context.Context) {
	report, err := p.probe(ctx)
	if err != nil {
		p.logger.Error("Scheduled run could not start", zap.Error(err))
		return
	}
	p.logger.Info("Scheduled run finished",
		zap.String("run_id", report.ID),
		zap.String("verdict", report.Verdict.String()))
}

// watch calls run on schedule until ctx is done, then waits for a run in
// progress to finish. Overlapping ticks are skipped.
func watch(ctx context.Context, logger *zap.Logger, schedule string, run func(context.Context)) error {
	cl := cronLogger{s: logger.Named("watch").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, func() { run(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logger.Info("Watching", zap.String("schedule", schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("Watch stopped")
	return nil
}
