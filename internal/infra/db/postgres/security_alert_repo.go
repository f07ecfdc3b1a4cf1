package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.SecurityAlertRepository = (*securityAlertRepo)(nil)

type securityAlertRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityAlertRepo(pool *pgxpool.Pool) *securityAlertRepo {
	return &securityAlertRepo{pool: pool}
}

func (r *securityAlertRepo) Save(ctx context.Context, tx repository.Tx, a *model.SecurityAlert) error {
	meta, err := marshalJSONB(a.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO security_alerts (id, alert_type, alert_message, metadata, resolved, created_at, resolved_at)
VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7);`
	_, err = execSQL(ctx, r.pool, tx, q, a.ID, a.Type, a.Message, meta, a.Resolved, a.CreatedAt, a.ResolvedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("save security alert: %w", err)
	}
	return nil
}

func (r *securityAlertRepo) List(ctx context.Context, tx repository.Tx, resolved *bool, limit int) ([]*model.SecurityAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, alert_type, alert_message, metadata, resolved, created_at, resolved_at
  FROM security_alerts
 WHERE $1::boolean IS NULL OR resolved = $1
 ORDER BY created_at DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, resolved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.SecurityAlert
	for rows.Next() {
		var (
			a    model.SecurityAlert
			meta []byte
		)
		if err := rows.Scan(&a.ID, &a.Type, &a.Message, &meta, &a.Resolved, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, scanErr(err)
		}
		if a.Metadata, err = unmarshalJSONB(meta); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *securityAlertRepo) Resolve(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE security_alerts SET resolved = TRUE, resolved_at = COALESCE(resolved_at, $2) WHERE id = $1;`, id, at)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
