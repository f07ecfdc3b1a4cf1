// File: internal/usecase/audit_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/metrics"
)

// TaskSubmitter runs background work without blocking the caller.
type TaskSubmitter interface {
	Submit(task func(ctx context.Context) error) error
}

const redactedValue = "[REDACTED]"

var sensitiveKeyParts = []string{
	"password", "token", "secret", "apikey", "api_key", "authorization", "verificationcode",
}

// AuditUseCase records guarded requests asynchronously and serves the audit views.
type AuditUseCase struct {
	repo    repository.AuditLogRepository
	workers TaskSubmitter
	log     *zerolog.Logger
	now     func() time.Time
	// timeout bounds one background save.
	timeout time.Duration
}

func NewAuditUseCase(repo repository.AuditLogRepository, workers TaskSubmitter, logger *zerolog.Logger) *AuditUseCase {
	return &AuditUseCase{
		repo:    repo,
		workers: workers,
		log:     componentLogger(logger, "audit"),
		now:     time.Now,
		timeout: 5 * time.Second,
	}
}

// Record redacts and persists entry in the background. Failures are logged,
// never returned.
func (a *AuditUseCase) Record(entry *model.AuditLogEntry) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = ulid.MustNew(ulid.Now(), rand.Reader).String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now().UTC()
	}
	entry.RequestBody = RedactMap(entry.RequestBody)
	entry.Metadata = RedactMap(entry.Metadata)

	err := a.workers.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.repo.Save(ctx, repository.NoTX, entry); err != nil {
			metrics.IncAudit("error")
			a.log.Error().Err(err).Str("action", entry.Action).Str("audit_id", entry.ID).Msg("audit entry not persisted")
			return nil
		}
		metrics.IncAudit("saved")
		return nil
	})
	if err != nil {
		metrics.IncAudit("dropped")
		a.log.Warn().Err(err).Str("action", entry.Action).Int("status", entry.ResponseStatus).Msg("audit entry dropped")
	}
}

// Query returns one page of entries and the total match count.
func (a *AuditUseCase) Query(ctx context.Context, filter model.AuditLogFilter) ([]*model.AuditLogEntry, int, error) {
	filter.Normalize()
	return a.repo.Query(ctx, repository.NoTX, filter)
}

// Stats aggregates entries over the trailing window.
func (a *AuditUseCase) Stats(ctx context.Context, window time.Duration) (*model.AuditStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return a.repo.Stats(ctx, repository.NoTX, a.now().UTC().Add(-window), 10)
}

// Purge deletes entries older than retentionDays.
func (a *AuditUseCase) Purge(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := a.now().UTC().AddDate(0, 0, -retentionDays)
	n, err := a.repo.DeleteBefore(ctx, repository.NoTX, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		a.log.Info().Int("deleted", n).Int("retention_days", retentionDays).Msg("audit logs purged")
	}
	return n, nil
}

// RedactMap returns a copy of m with sensitive keys masked at any depth.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = redactValue(item)
		}
		return cp
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
