package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/dropship-ops/opsconsole/internal/jobs"
	"github.com/dropship-ops/opsconsole/internal/shared"
	"github.com/dropship-ops/opsconsole/jobs"
)

// WorkerParams are the dependencies of the background worker.
type WorkerParams struct {
	Config   *Config
	Logger   *slog.Logger
	Services *Services
	Redis    *redis.Client
}

// NewWorker registers the ledger checkpoint, stock verification and idempotency cleanup
// jobs with their cron schedules.
func NewWorker(params WorkerParams) (*jobs.Worker, error) {
	cfg := params.Config
	if cfg.StoreDriver != DriverPostgres {
		return nil, errors.New("app: the worker requires the postgres store driver")
	}
	svc := params.Services
	locker := shared.NewLocker(params.Redis)
	metrics := jobmetrics.NewMetrics(nil)

	checkpoint := jobs.NewLedgerCheckpointJob(svc.Ledger, locker, params.Logger, metrics)
	verify := jobs.NewInventoryVerifyJob(svc.Inventory, locker, params.Logger, metrics)
	cleanup := jobs.NewIdempotencyCleanupJob(svc.Idempotency, params.Logger, metrics)

	now := time.Now()
	var cron []jobs.CronRegistration
	for _, entry := range []struct {
		spec, task string
	}{
		{cfg.CheckpointCron, jobs.TaskLedgerCheckpoint},
		{cfg.StockVerifyCron, jobs.TaskInventoryVerify},
		{cfg.CleanupCron, jobs.TaskIdempotencyCleanup},
	} {
		if entry.spec == "" {
			continue
		}
		task, err := jobs.NewTask(entry.task, now)
		if err != nil {
			return nil, fmt.Errorf("app: build %s task: %w", entry.task, err)
		}
		cron = append(cron, jobs.CronRegistration{Spec: entry.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	return jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    params.Logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerCheckpoint, Handler: checkpoint.Handle},
			{Type: jobs.TaskInventoryVerify, Handler: verify.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: cron,
	})
}
