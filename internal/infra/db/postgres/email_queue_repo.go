package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/security"
)

var (
	_ repository.EmailQueueRepository = (*emailQueueRepo)(nil)
	_ repository.DeliveryLogRepository = (*deliveryLogRepo)(nil)
)

type emailQueueRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

// NewEmailQueueRepo stores template payloads sealed with enc. A nil enc keeps
// them as plain JSON.
func NewEmailQueueRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *emailQueueRepo {
	return &emailQueueRepo{pool: pool, enc: enc}
}

const emailQueueColumns = `id, "to", subject, template_name, template_data, priority, status,
  attempts, max_attempts, scheduled_at, sent_at, failed_at, error_message, created_at, updated_at`

func (r *emailQueueRepo) scan(row pgx.Row) (*model.EmailQueueItem, error) {
	var (
		it       model.EmailQueueItem
		payload  string
		priority string
		status   string
		errMsg   *string
	)
	err := row.Scan(
		&it.ID, &it.To, &it.Subject, &it.TemplateName, &payload, &priority, &status,
		&it.Attempts, &it.MaxAttempts, &it.ScheduledAt, &it.SentAt, &it.FailedAt, &errMsg, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, scanErr(err)
	}
	it.Priority = model.EmailPriority(priority)
	it.Status = model.EmailStatus(status)
	if errMsg != nil {
		it.ErrorMessage = *errMsg
	}
	data, err := r.enc.OpenPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("open payload of %s: %w", it.ID, err)
	}
	it.TemplateData = data
	return &it, nil
}

func (r *emailQueueRepo) Create(ctx context.Context, tx repository.Tx, it *model.EmailQueueItem) error {
	payload, err := r.enc.SealPayload(it.TemplateData)
	if err != nil {
		return fmt.Errorf("seal payload: %w", err)
	}
	const q = `
INSERT INTO email_queue (` + emailQueueColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15);`
	_, err = execSQL(ctx, r.pool, tx, q,
		it.ID, it.To, it.Subject, it.TemplateName, payload, string(it.Priority), string(it.Status),
		it.Attempts, it.MaxAttempts, it.ScheduledAt, it.SentAt, it.FailedAt, it.ErrorMessage, it.CreatedAt, it.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create email: %w", err)
	}
	return nil
}

func (r *emailQueueRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EmailQueueItem, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+emailQueueColumns+` FROM email_queue WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

// ClaimDue skips rows another drain has locked, so concurrent instances never
// claim the same item.
func (r *emailQueueRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.EmailQueueItem, error) {
	const q = `
UPDATE email_queue
   SET status = 'processing', attempts = attempts + 1, updated_at = $1
 WHERE id IN (
	SELECT id FROM email_queue
	 WHERE status IN ('pending','failed') AND scheduled_at <= $1 AND attempts < max_attempts
	 ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, scheduled_at, created_at
	 LIMIT $2
	 FOR UPDATE SKIP LOCKED)
RETURNING ` + emailQueueColumns + `;`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due emails: %w", err)
	}
	defer rows.Close()
	var out []*model.EmailQueueItem
	for rows.Next() {
		it, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sortClaimed(out)
	return out, nil
}

func sortClaimed(items []*model.EmailQueueItem) {
	sort.SliceStable(items, func(i, j int) bool { return claimedBefore(items[i], items[j]) })
}

func claimedBefore(a, b *model.EmailQueueItem) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *emailQueueRepo) MarkSent(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	return r.update(ctx, tx, `
UPDATE email_queue SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = $2 WHERE id = $1;`, id, at)
}

func (r *emailQueueRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, errMsg string, at time.Time) error {
	return r.update(ctx, tx, `
UPDATE email_queue SET status = 'failed', failed_at = $3, error_message = $2, updated_at = $3 WHERE id = $1;`, id, errMsg, at)
}

func (r *emailQueueRepo) Requeue(ctx context.Context, tx repository.Tx, id, errMsg string) error {
	return r.update(ctx, tx, `
UPDATE email_queue SET status = 'pending', error_message = $2, updated_at = NOW() WHERE id = $1;`, id, errMsg)
}

func (r *emailQueueRepo) Release(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	_, err := execSQL(ctx, r.pool, tx, `
UPDATE email_queue SET status = 'pending', attempts = GREATEST(attempts - 1, 0), updated_at = $2
 WHERE id = $1 AND status = 'processing';`, id, at)
	if err != nil {
		return fmt.Errorf("release email: %w", err)
	}
	return nil
}

func (r *emailQueueRepo) RecoverStale(ctx context.Context, tx repository.Tx, staleBefore, at time.Time) (int, error) {
	const q = `
UPDATE email_queue
   SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
       failed_at = CASE WHEN attempts >= max_attempts THEN $2 ELSE failed_at END,
       error_message = 'delivery interrupted',
       updated_at = $2
 WHERE status = 'processing' AND updated_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, staleBefore, at)
	if err != nil {
		return 0, fmt.Errorf("recover stale emails: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *emailQueueRepo) update(ctx context.Context, tx repository.Tx, q string, args ...interface{}) error {
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *emailQueueRepo) RetryFailed(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	const q = `
UPDATE email_queue
   SET status = 'pending', attempts = 0, failed_at = NULL, error_message = NULL, updated_at = NOW()
 WHERE status = 'failed' AND failed_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retry failed emails: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *emailQueueRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	const q = `
DELETE FROM email_queue
 WHERE (status = 'sent' AND sent_at < $1) OR (status = 'failed' AND failed_at < $1);`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old emails: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *emailQueueRepo) Stats(ctx context.Context, tx repository.Tx) (*model.EmailQueueStats, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT status, COUNT(*) FROM email_queue GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var st model.EmailQueueStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, scanErr(err)
		}
		switch model.EmailStatus(status) {
		case model.EmailStatusPending:
			st.Pending = n
		case model.EmailStatusProcessing:
			st.Processing = n
		case model.EmailStatusSent:
			st.Sent = n
		case model.EmailStatusFailed:
			st.Failed = n
		}
	}
	return &st, rows.Err()
}

type deliveryLogRepo struct {
	pool *pgxpool.Pool
}

func NewDeliveryLogRepo(pool *pgxpool.Pool) *deliveryLogRepo {
	return &deliveryLogRepo{pool: pool}
}

func (r *deliveryLogRepo) Save(ctx context.Context, tx repository.Tx, l *model.DeliveryLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	const q = `
INSERT INTO email_delivery_logs (id, queue_item_id, recipient, template_name, message_id, sent_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6);`
	if _, err := execSQL(ctx, r.pool, tx, q, l.ID, l.QueueItemID, l.To, l.TemplateName, l.MessageID, l.SentAt); err != nil {
		return fmt.Errorf("save delivery log: %w", err)
	}
	return nil
}
