package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerCheckpoint materialises balance checkpoints for every account.
	TaskLedgerCheckpoint = "ledger:checkpoint"
	// TaskInventoryVerify compares every stock level with the sum of its movements.
	TaskInventoryVerify = "inventory:verify"
	// TaskIdempotencyCleanup drops idempotency keys past their retention.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ScheduledPayload carries scheduling metadata shared by the periodic tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// CleanupPayload bounds the age of idempotency keys kept.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// DefaultRetentionHours keeps idempotency keys for a week.
const DefaultRetentionHours = 24 * 7

// NewLedgerCheckpointTask constructs the checkpoint task.
func NewLedgerCheckpointTask(at time.Time) (*asynq.Task, error) {
	return scheduledTask(TaskLedgerCheckpoint, at)
}

// NewInventoryVerifyTask constructs the stock verification task.
func NewInventoryVerifyTask(at time.Time) (*asynq.Task, error) {
	return scheduledTask(TaskInventoryVerify, at)
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewTask builds a supported task by type with its default payload.
func NewTask(taskType string, now time.Time) (*asynq.Task, error) {
	switch taskType {
	case TaskLedgerCheckpoint:
		return NewLedgerCheckpointTask(now)
	case TaskInventoryVerify:
		return NewInventoryVerifyTask(now)
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(DefaultRetentionHours)
	}
	return nil, ErrUnknownTask
}

func scheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}
