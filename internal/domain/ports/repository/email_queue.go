package repository

import (
	"context"
	"time"

	"fleet-maintenance/internal/domain/model"
)

// -----------------------------
// Email Queue
// -----------------------------

type EmailQueueRepository interface {
	Create(ctx context.Context, tx Tx, item *model.EmailQueueItem) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.EmailQueueItem, error)
	// ClaimDue picks up to limit due items (pending or failed, scheduled_at <= now,
	// attempts < max_attempts) ordered by priority then scheduled_at, marks them
	// processing and increments their attempts.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.EmailQueueItem, error)
	MarkSent(ctx context.Context, tx Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx Tx, id, errMsg string, at time.Time) error
	// Requeue reverts a processing item to pending, keeping its attempt count.
	Requeue(ctx context.Context, tx Tx, id, errMsg string) error
	// Release hands back a claim that never reached the transport: the item
	// returns to pending and the claim's attempt is not counted.
	Release(ctx context.Context, tx Tx, id string, at time.Time) error
	// RecoverStale returns processing items untouched since staleBefore to
	// pending, or marks them failed when they have no attempts left.
	RecoverStale(ctx context.Context, tx Tx, staleBefore, at time.Time) (int, error)
	// RetryFailed resets failed items with failed_at before cutoff to pending with zero attempts.
	RetryFailed(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
	// DeleteTerminalBefore purges sent/failed items that finished before cutoff.
	DeleteTerminalBefore(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
	Stats(ctx context.Context, tx Tx) (*model.EmailQueueStats, error)
}

type DeliveryLogRepository interface {
	Save(ctx context.Context, tx Tx, log *model.DeliveryLog) error
}
