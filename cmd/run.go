package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(e *env) *cobra.Command {
	var (
		opts     probeOptions
		outDir   string
		formats  []string
		timeout  time.Duration
		headless bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a scenario once and reports its verdict",
		Example: `  widgetprobe run --url https://blog.example.com/post/1
  widgetprobe run --scenario signup.yaml --format json,junit --strict
  widgetprobe run --url https://blog.example.com/post/1 --static saved.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			flags := cmd.Flags()
			if flags.Changed("out") {
				e.cfg.SetArtifactsDir(outDir)
			}
			if flags.Changed("format") {
				e.cfg.SetArtifactsFormats(formats)
			}
			if flags.Changed("timeout") {
				e.cfg.SetRunTimeout(timeout)
			}
			if flags.Changed("headless") {
				e.cfg.SetBrowserHeadless(headless)
			}
			if err := e.cfg.Validate(); err != nil {
				return err
			}

			p, err := newProber(ctx, e.cfg, e.logger, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer p.Close()

			e.logger.Info("Starting probe run",
				zap.String("scenario", p.scenario.Name),
				zap.Int("steps", len(p.scenario.Steps)),
				zap.Bool("static", opts.staticPath != ""))

			report, err := p.probe(ctx)
			if err != nil {
				return err
			}
			e.logger.Info("Probe run finished",
				zap.String("run_id", report.ID),
				zap.String("verdict", report.Verdict.String()),
				zap.Duration("duration", report.Duration()))
			return verdictError(report, opts.strict)
		},
	}

	f := runCmd.Flags()
	f.StringVarP(&opts.scenarioPath, "scenario", "s", "", "Scenario file (YAML)")
	f.StringVarP(&opts.url, "url", "u", "", "Page URL for the built-in comment-widget scenario")
	f.StringVar(&opts.staticPath, "static", "", "Run against a saved HTML file instead of a browser")
	f.StringVarP(&outDir, "out", "o", "", "Artifact directory (overrides artifacts.dir)")
	f.StringSliceVarP(&formats, "format", "f", nil, "Report formats: json, junit, text (overrides artifacts.formats)")
	f.DurationVar(&timeout, "timeout", 0, "Run timeout (overrides run.timeout, 0 disables)")
	f.BoolVar(&opts.strict, "strict", false, "Exit with status 2 when the verdict is degraded")
	f.BoolVar(&headless, "headless", true, "Run the browser headless (overrides browser.headless)")
	runCmd.MarkFlagsMutuallyExclusive("scenario", "url")
	runCmd.MarkFlagsOneRequired("scenario", "url")

	return runCmd
}
