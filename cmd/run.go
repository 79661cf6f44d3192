package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runOutput        string
	runDryRun        bool
	runFailOnQuality bool
	runLocation      string
	runDataset       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long:  "Loads the configured source into staging, transforms it, rebuilds the mart and records quality metrics. Exits non-zero when the run fails.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runLocation != "" {
			cfg.Source.Location = runLocation
		}
		if runDataset != "" {
			cfg.Pipeline.Dataset = runDataset
		}

		env, err := initEnv(ctx, envOptions{Mode: "run", DryRun: runDryRun})
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := executeRun(ctx, env)
		if err != nil {
			return err
		}

		if err := renderOutcome(cmd.OutOrStdout(), out, runOutput); err != nil {
			return err
		}

		if !out.Succeeded() {
			return eris.Errorf("run %s failed in %s stage: %s", out.RunID, out.FailedStage, out.ErrorKind)
		}
		if runFailOnQuality && out.Quality != nil && out.Quality.Violations() > 0 {
			zap.L().Warn("quality violations found", zap.Int64("violations", out.Quality.Violations()))
			return eris.Errorf("run %s: %d quality violations", out.RunID, out.Quality.Violations())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", outputTable, "output format: table, json or yaml")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "run against an in-memory store")
	runCmd.Flags().BoolVar(&runFailOnQuality, "fail-on-quality", false, "exit non-zero when quality metrics report violations")
	runCmd.Flags().StringVar(&runLocation, "location", "", "source location (default from config)")
	runCmd.Flags().StringVar(&runDataset, "dataset", "", "dataset name (default from config)")
	rootCmd.AddCommand(runCmd)
}
