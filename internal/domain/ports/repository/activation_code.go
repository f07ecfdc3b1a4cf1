package repository

import (
	"context"
	"time"

	"fleet-maintenance/internal/domain/model"
)

// ActivationCodeRepository is the port for managing activation codes.
// Every mutating method is a single-row (or single-statement) write.
type ActivationCodeRepository interface {
	// Save inserts a new code. Returns domain.ErrAlreadyExists when the code string is taken.
	Save(ctx context.Context, tx Tx, code *model.ActivationCode) error
	// FindByCode returns the code regardless of state.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.ActivationCode, error)
	// CodeExists reports whether the code string is already in use.
	CodeExists(ctx context.Context, tx Tx, code string) (bool, error)
	ListByCompany(ctx context.Context, tx Tx, companyID string) ([]*model.ActivationCode, error)
	// LockCompany serializes regeneration for companyID until tx ends.
	LockCompany(ctx context.Context, tx Tx, companyID string) error
	// CountRegenerated counts the company's superseded codes.
	CountRegenerated(ctx context.Context, tx Tx, companyID string) (int, error)
	// SupersedeLive marks every un-activated, non-regenerated code of the company
	// except exceptID as regenerated.
	SupersedeLive(ctx context.Context, tx Tx, companyID, exceptID string, at time.Time) (int, error)
	// MarkActivated sets activated_at only on a live code: unactivated, not
	// superseded and expiring after at.
	MarkActivated(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	// Expire moves expires_at to at (revocation).
	Expire(ctx context.Context, tx Tx, id string, at time.Time) error

	// ListReminderDue returns live codes expiring in (now, until] without a reminder.
	ListReminderDue(ctx context.Context, tx Tx, now, until time.Time, limit int) ([]*model.ActivationCode, error)
	// ListExpiryNoticeDue returns unused codes expired before now without an expiry notice.
	ListExpiryNoticeDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.ActivationCode, error)
	// ClaimReminder sets reminder_sent_at if unset; false means another pass got it first.
	ClaimReminder(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	ReleaseReminder(ctx context.Context, tx Tx, id string) error
	ClaimExpiryNotice(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	ReleaseExpiryNotice(ctx context.Context, tx Tx, id string) error

	// IncrementAttempts and FlagSuspicious leave superseded codes untouched and
	// report them as domain.ErrNotFound.
	IncrementAttempts(ctx context.Context, tx Tx, code string, at time.Time) error
	FlagSuspicious(ctx context.Context, tx Tx, code string, at time.Time) error
}
