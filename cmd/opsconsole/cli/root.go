package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dropship-ops/opsconsole/internal/app"
)

// NewRootCommand creates the opsconsole command with every subcommand registered.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "opsconsole",
		Short: "Ledger, inventory and catalog console for dropshipping operations",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newWorkerCommand(), newMigrateCommand(), newJobsCommand())
	return root
}

// loadRuntime loads configuration and the logger shared by every subcommand.
func loadRuntime() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cfg), nil
}
