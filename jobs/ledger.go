package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	jobmetrics "github.com/dropship-ops/opsconsole/internal/jobs"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Checkpointer is the ledger surface the checkpoint job needs.
type Checkpointer interface {
	CheckpointAll(ctx context.Context) (int, error)
	TrialBalance(ctx context.Context) (accounting.TrialBalance, error)
}

// LedgerCheckpointJob writes balance checkpoints and checks the ledger still balances.
type LedgerCheckpointJob struct {
	Ledger  Checkpointer
	Locker  *shared.Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewLedgerCheckpointJob initialises the checkpoint handler.
func NewLedgerCheckpointJob(ledger Checkpointer, locker *shared.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerCheckpointJob {
	return &LedgerCheckpointJob{Ledger: ledger, Locker: locker, Logger: logger, Metrics: metrics, LockTTL: 10 * time.Minute}
}

// Handle executes one checkpoint run. A run already in progress elsewhere makes this one a
// no-op.
func (j *LedgerCheckpointJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger checkpoint: handler not configured")
	}
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := loggerOr(j.Logger).With(slog.String("job", TaskLedgerCheckpoint))

	release, err := j.Locker.Acquire(ctx, shared.JobLockKey(TaskLedgerCheckpoint), j.LockTTL)
	if errors.Is(err, shared.ErrLockHeld) {
		logger.Info("checkpoint already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	defer releaseLock(ctx, release, logger)

	tracker := j.Metrics.Track(TaskLedgerCheckpoint)
	defer func() { resultErr = tracker.End(resultErr) }()

	start := time.Now()
	written, err := j.Ledger.CheckpointAll(ctx)
	j.Metrics.AddCheckpoints(written)
	if err != nil {
		logger.Error("checkpoint failed", slog.Int("written", written), slog.Any("error", err))
		return err
	}

	tb, err := j.Ledger.TrialBalance(ctx)
	if err != nil {
		logger.Error("trial balance", slog.Any("error", err))
		return err
	}
	if !tb.Balanced {
		logger.Error("ledger out of balance",
			slog.Float64("debit", tb.TotalDebit),
			slog.Float64("credit", tb.TotalCredit),
		)
	}
	logger.Info("checkpoint completed",
		slog.Int("written", written),
		slog.Bool("balanced", tb.Balanced),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func releaseLock(ctx context.Context, release func(context.Context) error, logger *slog.Logger) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("release job lock", slog.Any("error", err))
	}
}
