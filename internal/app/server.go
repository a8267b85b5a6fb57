package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dropship-ops/opsconsole/internal/observability"
	"github.com/dropship-ops/opsconsole/internal/platform/cache"
	"github.com/dropship-ops/opsconsole/jobs"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP console until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	services, err := NewServices(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer services.Close()

	var queue jobs.QueueInspector
	if cfg.StoreDriver == DriverPostgres {
		if redisClient, err := cache.New(ctx, cfg.RedisAddr); err != nil {
			logger.Warn("redis unavailable, jobs health disabled", slog.Any("error", err))
		} else {
			_ = redisClient.Close()
			client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("jobs client close", slog.Any("error", err))
				}
			}()
			queue = client
		}
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      NewRouter(RouterParams{Logger: logger, Config: cfg, Services: services, Queue: queue, Metrics: metrics}),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down http server")
	return server.Shutdown(shutdownCtx)
}
