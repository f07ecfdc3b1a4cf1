package repository

import (
	"context"
	"time"

	"fleet-maintenance/internal/domain/model"
)

// AuditLogRepository is append-only apart from retention purges.
type AuditLogRepository interface {
	Save(ctx context.Context, tx Tx, entry *model.AuditLogEntry) error
	// Query returns one page of matching entries, newest first, and the total match count.
	Query(ctx context.Context, tx Tx, filter model.AuditLogFilter) ([]*model.AuditLogEntry, int, error)
	Stats(ctx context.Context, tx Tx, since time.Time, top int) (*model.AuditStats, error)
	DeleteBefore(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
}
