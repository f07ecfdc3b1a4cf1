package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*auditLogRepo)(nil)

type auditLogRepo struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepo(pool *pgxpool.Pool) *auditLogRepo {
	return &auditLogRepo{pool: pool}
}

const auditLogColumns = `id, action, resource_type, resource_id, user_id, ip_address, user_agent,
  method, path, request_body, response_status, latency_ms, error_message, metadata, created_at`

func (r *auditLogRepo) Save(ctx context.Context, tx repository.Tx, e *model.AuditLogEntry) error {
	body, err := marshalJSONB(e.RequestBody)
	if err != nil {
		return err
	}
	meta, err := marshalJSONB(e.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audit_logs (` + auditLogColumns + `)
VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,''),
        NULLIF($8,''),NULLIF($9,''),$10::jsonb,$11,$12,NULLIF($13,''),$14::jsonb,$15);`
	_, err = execSQL(ctx, r.pool, tx, q,
		e.ID, e.Action, e.ResourceType, e.ResourceID, e.UserID, e.IPAddress, e.UserAgent,
		e.Method, e.Path, body, e.ResponseStatus, e.LatencyMs, e.ErrorMessage, meta, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save audit entry: %w", err)
	}
	return nil
}

func (r *auditLogRepo) Query(ctx context.Context, tx repository.Tx, f model.AuditLogFilter) ([]*model.AuditLogEntry, int, error) {
	f.Normalize()
	where, args := auditWhere(f)

	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM audit_logs`+where+`;`, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, 0, scanErr(err)
	}

	args = append(args, f.Limit, f.Offset())
	q := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d;`,
		auditLogColumns, where, len(args)-1, len(args))
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*model.AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func auditWhere(f model.AuditLogFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.IPAddress != "" {
		add("ip_address = $%d", f.IPAddress)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanAuditEntry(row pgx.Row) (*model.AuditLogEntry, error) {
	var (
		e                                       model.AuditLogEntry
		resType, resID, userID, ip, ua, method  *string
		path, errMsg                            *string
		body, meta                              []byte
	)
	err := row.Scan(&e.ID, &e.Action, &resType, &resID, &userID, &ip, &ua,
		&method, &path, &body, &e.ResponseStatus, &e.LatencyMs, &errMsg, &meta, &e.CreatedAt)
	if err != nil {
		return nil, scanErr(err)
	}
	e.ResourceType = deref(resType)
	e.ResourceID = deref(resID)
	e.UserID = deref(userID)
	e.IPAddress = deref(ip)
	e.UserAgent = deref(ua)
	e.Method = deref(method)
	e.Path = deref(path)
	e.ErrorMessage = deref(errMsg)
	if e.RequestBody, err = unmarshalJSONB(body); err != nil {
		return nil, err
	}
	if e.Metadata, err = unmarshalJSONB(meta); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *auditLogRepo) Stats(ctx context.Context, tx repository.Tx, since time.Time, top int) (*model.AuditStats, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE response_status > 0 AND response_status < 400),
       COALESCE(AVG(latency_ms), 0)::float8,
       COALESCE(MAX(latency_ms), 0)
  FROM audit_logs
 WHERE created_at >= $1;`
	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return nil, err
	}
	st := &model.AuditStats{Since: since}
	if err := row.Scan(&st.Total, &st.Success, &st.AvgLatencyMs, &st.MaxLatencyMs); err != nil {
		return nil, scanErr(err)
	}
	st.Errors = st.Total - st.Success

	if st.ByAction, err = r.topCounts(ctx, tx, "action", since, top); err != nil {
		return nil, err
	}
	if st.ByIP, err = r.topCounts(ctx, tx, "ip_address", since, top); err != nil {
		return nil, err
	}
	return st, nil
}

// topCounts groups by a fixed, trusted column name.
func (r *auditLogRepo) topCounts(ctx context.Context, tx repository.Tx, column string, since time.Time, top int) ([]model.KeyCount, error) {
	q := fmt.Sprintf(`
SELECT %[1]s, COUNT(*) AS n
  FROM audit_logs
 WHERE created_at >= $1 AND %[1]s IS NOT NULL
 GROUP BY %[1]s
 ORDER BY n DESC, %[1]s
 LIMIT $2;`, column)
	rows, err := queryRows(ctx, r.pool, tx, q, since, top)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.KeyCount{}
	for rows.Next() {
		var kc model.KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, scanErr(err)
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

func (r *auditLogRepo) DeleteBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM audit_logs WHERE created_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// marshalJSONB returns nil for an empty map so the column stays NULL.
func marshalJSONB(m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func unmarshalJSONB(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
