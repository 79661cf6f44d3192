package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/support-elt/internal/runlog"
	"github.com/sells-group/support-elt/internal/warehouse"
)

var (
	runsLimit  int
	runsOutput string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List pipeline run history",
	Long:  "Lists runs recorded in staging.pipeline_runs, most recent first. Requires the postgres store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		pg, err := warehouse.NewPostgres(ctx, cfg.Store.DatabaseURL, &warehouse.PoolConfig{MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return err
		}
		defer pg.Close() //nolint:errcheck

		rl := runlog.New(pg.Pool())
		entries, err := rl.List(ctx, runsLimit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if runsOutput != outputTable {
			return renderRuns(cmd.OutOrStdout(), entries, runsOutput)
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		last, err := rl.LastSuccess(ctx, cfg.Pipeline.Name)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if last != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Last success: %s\n\n", last.UTC().Format(time.DateTime))
		}
		return renderRuns(cmd.OutOrStdout(), entries, runsOutput)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list (0 for all)")
	runsCmd.Flags().StringVarP(&runsOutput, "output", "o", outputTable, "output format: table, json or yaml")
	rootCmd.AddCommand(runsCmd)
}
