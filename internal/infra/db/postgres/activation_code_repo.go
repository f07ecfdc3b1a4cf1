package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.ActivationCodeRepository = (*activationCodeRepo)(nil)

type activationCodeRepo struct {
	pool *pgxpool.Pool
}

func NewActivationCodeRepo(pool *pgxpool.Pool) *activationCodeRepo {
	return &activationCodeRepo{pool: pool}
}

const activationCodeColumns = `id, company_id, code, expires_at, activated_at, reminder_sent_at,
  expired_notification_sent, regenerated, attempt_count, locked_until, suspicious_activity,
  created_at, updated_at`

func scanActivationCode(row pgx.Row) (*model.ActivationCode, error) {
	var ac model.ActivationCode
	err := row.Scan(
		&ac.ID, &ac.CompanyID, &ac.Code, &ac.ExpiresAt, &ac.ActivatedAt, &ac.ReminderSentAt,
		&ac.ExpiredNotificationSent, &ac.Regenerated, &ac.AttemptCount, &ac.LockedUntil, &ac.SuspiciousActivity,
		&ac.CreatedAt, &ac.UpdatedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	return &ac, nil
}

func (r *activationCodeRepo) Save(ctx context.Context, tx repository.Tx, c *model.ActivationCode) error {
	const q = `
INSERT INTO activation_codes (` + activationCodeColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`
	_, err := execSQL(ctx, r.pool, tx, q,
		c.ID, c.CompanyID, c.Code, c.ExpiresAt, c.ActivatedAt, c.ReminderSentAt,
		c.ExpiredNotificationSent, c.Regenerated, c.AttemptCount, c.LockedUntil, c.SuspiciousActivity,
		c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("save activation code: %w", err)
	}
	return nil
}

func (r *activationCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	q := `SELECT ` + activationCodeColumns + ` FROM activation_codes WHERE code = $1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", code)
	if err != nil {
		return nil, err
	}
	return scanActivationCode(row)
}

func (r *activationCodeRepo) CodeExists(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM activation_codes WHERE code = $1);`, code)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, scanErr(err)
	}
	return exists, nil
}

func (r *activationCodeRepo) ListByCompany(ctx context.Context, tx repository.Tx, companyID string) ([]*model.ActivationCode, error) {
	q := `SELECT ` + activationCodeColumns + ` FROM activation_codes WHERE company_id = $1 ORDER BY created_at DESC;`
	return r.list(ctx, tx, q, companyID)
}

// LockCompany takes a transaction-scoped advisory lock on the company id.
func (r *activationCodeRepo) LockCompany(ctx context.Context, tx repository.Tx, companyID string) error {
	if _, ok := tx.(pgx.Tx); !ok {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock(hashtext($1));`, companyID)
	return err
}

func (r *activationCodeRepo) CountRegenerated(ctx context.Context, tx repository.Tx, companyID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM activation_codes WHERE company_id = $1 AND regenerated = TRUE;`, companyID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, scanErr(err)
	}
	return n, nil
}

func (r *activationCodeRepo) SupersedeLive(ctx context.Context, tx repository.Tx, companyID, exceptID string, at time.Time) (int, error) {
	const q = `
UPDATE activation_codes
   SET regenerated = TRUE, updated_at = $3
 WHERE company_id = $1 AND id <> $2 AND activated_at IS NULL AND regenerated = FALSE;`
	tag, err := execSQL(ctx, r.pool, tx, q, companyID, exceptID, at)
	if err != nil {
		return 0, fmt.Errorf("supersede codes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *activationCodeRepo) MarkActivated(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE activation_codes SET activated_at = $2, updated_at = $2
 WHERE id = $1 AND activated_at IS NULL AND regenerated = FALSE AND expires_at > $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return false, fmt.Errorf("activate code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *activationCodeRepo) Expire(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE activation_codes SET expires_at = $2, updated_at = NOW() WHERE id = $1;`, id, at)
	if err != nil {
		return fmt.Errorf("expire code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *activationCodeRepo) ListReminderDue(ctx context.Context, tx repository.Tx, now, until time.Time, limit int) ([]*model.ActivationCode, error) {
	q := `SELECT ` + activationCodeColumns + `
  FROM activation_codes
 WHERE activated_at IS NULL AND regenerated = FALSE AND reminder_sent_at IS NULL
   AND expires_at > $1 AND expires_at <= $2
 ORDER BY expires_at
 LIMIT $3;`
	return r.list(ctx, tx, q, now, until, limit)
}

func (r *activationCodeRepo) ListExpiryNoticeDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ActivationCode, error) {
	q := `SELECT ` + activationCodeColumns + `
  FROM activation_codes
 WHERE activated_at IS NULL AND regenerated = FALSE AND expired_notification_sent = FALSE
   AND expires_at < $1
 ORDER BY expires_at
 LIMIT $2;`
	return r.list(ctx, tx, q, now, limit)
}

func (r *activationCodeRepo) ClaimReminder(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE activation_codes SET reminder_sent_at = $2, updated_at = $2 WHERE id = $1 AND reminder_sent_at IS NULL;`, id, at)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *activationCodeRepo) ReleaseReminder(ctx context.Context, tx repository.Tx, id string) error {
	_, err := execSQL(ctx, r.pool, tx, `UPDATE activation_codes SET reminder_sent_at = NULL WHERE id = $1;`, id)
	return err
}

func (r *activationCodeRepo) ClaimExpiryNotice(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx,
		`UPDATE activation_codes SET expired_notification_sent = TRUE, updated_at = $2 WHERE id = $1 AND expired_notification_sent = FALSE;`, id, at)
	if err != nil {
		return false, fmt.Errorf("claim expiry notice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *activationCodeRepo) ReleaseExpiryNotice(ctx context.Context, tx repository.Tx, id string) error {
	_, err := execSQL(ctx, r.pool, tx, `UPDATE activation_codes SET expired_notification_sent = FALSE WHERE id = $1;`, id)
	return err
}

func (r *activationCodeRepo) IncrementAttempts(ctx context.Context, tx repository.Tx, code string, at time.Time) error {
	return r.touch(ctx, tx, `UPDATE activation_codes SET attempt_count = attempt_count + 1, updated_at = $2 WHERE code = $1 AND regenerated = FALSE;`, code, at)
}

func (r *activationCodeRepo) FlagSuspicious(ctx context.Context, tx repository.Tx, code string, at time.Time) error {
	return r.touch(ctx, tx, `UPDATE activation_codes SET suspicious_activity = TRUE, updated_at = $2 WHERE code = $1 AND regenerated = FALSE;`, code, at)
}

func (r *activationCodeRepo) touch(ctx context.Context, tx repository.Tx, q, code string, at time.Time) error {
	tag, err := execSQL(ctx, r.pool, tx, q, code, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *activationCodeRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.ActivationCode, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ActivationCode
	for rows.Next() {
		ac, err := scanActivationCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}
