package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropship-ops/opsconsole/internal/app"
	"github.com/dropship-ops/opsconsole/internal/platform/cache"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, cfg, logger)
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			services, err := app.NewServices(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer services.Close()
			redisClient, err := cache.New(ctx, cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			worker, err := app.NewWorker(app.WorkerParams{Config: cfg, Logger: logger, Services: services, Redis: redisClient})
			if err != nil {
				return err
			}
			logger.Info("worker started")
			return ignoreCancel(worker.Run(ctx))
		},
	}
}
