package repository

import (
	"context"
	"time"

	"fleet-maintenance/internal/domain/model"
)

type SecurityAlertRepository interface {
	Save(ctx context.Context, tx Tx, alert *model.SecurityAlert) error
	// List returns newest alerts first; resolved == nil lists both states.
	List(ctx context.Context, tx Tx, resolved *bool, limit int) ([]*model.SecurityAlert, error)
	Resolve(ctx context.Context, tx Tx, id string, at time.Time) error
}
