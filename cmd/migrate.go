package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/runlog"
	"github.com/sells-group/support-elt/internal/warehouse"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the staging and mart schemas and the run log table",
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

		if err := runlog.Migrate(ctx, pg.Pool()); err != nil {
			return eris.Wrap(err, "migrate")
		}

		names, err := runlog.MigrationNames()
		if err != nil {
			return err
		}
		zap.L().Info("migrations applied", zap.Int("count", len(names)))
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
