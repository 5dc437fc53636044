package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/widgetprobe/internal/config"
	"github.com/xkilldash9x/widgetprobe/internal/store"
)

// newHistoryCmd creates the `history` command.
func newHistoryCmd(e *env) *cobra.Command {
	var (
		scenarioName string
		limit        int
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists stored runs of a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			url := e.cfg.Store().URL
			if url == "" {
				return fmt.Errorf("run history needs store.url (%s_STORE_URL or DATABASE_URL)", config.EnvPrefix)
			}
			pool, err := pgxpool.New(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, e.logger)
			if err != nil {
				return err
			}
			runs, err := st.RecentRuns(ctx, scenarioName, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), scenarioName, runs)
			return nil
		},
	}

	historyCmd.Flags().StringVarP(&scenarioName, "scenario", "s", "comment-widget", "Scenario name")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return historyCmd
}

func printHistory(w io.Writer, scenarioName string, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No stored runs for %s.\n", scenarioName)
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-8s  %9s  %6s\n", "RUN", "STARTED", "VERDICT", "DURATION", "EVENTS")
	for _, r := range runs {
		verdict := r.Verdict.String()
		if r.TimedOut {
			verdict += "*"
		}
		fmt.Fprintf(w, "%s  %-20s  %-8s  %9s  %6d\n",
			runewidth.FillRight(runewidth.Truncate(r.ID, 36, ""), 36),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			verdict,
			r.Duration.Round(time.Millisecond),
			r.EventCount)
	}
}
