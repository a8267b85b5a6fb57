package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dropship-ops/opsconsole/internal/platform/db"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(migrateStep("up", "Apply all pending migrations", true))
	cmd.AddCommand(migrateStep("down", "Roll back the latest migration", false))
	return cmd
}

func migrateStep(use, short string, up bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			changed, err := db.Migrate(cfg.PGDSN, up)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "no change")
				return nil
			}
			logger.Info("migrations applied", slog.String("direction", use))
			return nil
		},
	}
}
