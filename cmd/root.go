// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/widgetprobe/internal/config"
	"github.com/xkilldash9x/widgetprobe/internal/observability"
)

// env carries what PersistentPreRunE prepared to the subcommands.
type env struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree. Tests call it once per case so
// flags never leak between executions.
func NewRootCommand() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:   "widgetprobe",
		Short: "widgetprobe drives scripted browser scenarios against web widgets.",
		Long: `widgetprobe runs a scenario of typed steps (navigate, locate, fill, click,
wait, count, assert) against a page, correlates network and console events to
the steps and reports a passed/degraded/failed verdict.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.initialize()
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&e.cfgFile, "config", "c", "", "config file (default is ./widgetprobe.yaml or ~/.config/widgetprobe/widgetprobe.yaml)")

	rootCmd.AddCommand(
		newRunCmd(e),
		newWatchCmd(e),
		newHistoryCmd(e),
		newVersionCmd(),
	)
	return rootCmd
}

// initialize reads the configuration and sets up logging.
func (e *env) initialize() error {
	v := viper.New()
	config.SetDefaults(v)
	if err := config.ConfigureViper(v, e.cfgFile); err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console"})
		return err
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console"})
		return err
	}
	observability.InitializeLogger(cfg.Logger())

	e.cfg = cfg
	e.logger = observability.GetLogger()
	e.logger.Debug("Configuration loaded", zap.String("version", Version), zap.String("config_file", v.ConfigFileUsed()))
	return nil
}

// Execute runs the command tree with the given (signal-aware) context.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		// The verdict was already reported.
		return err
	}
	if logger := observability.GetLogger(); logger != nil {
		logger.Error("Command execution failed", zap.Error(err))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}
