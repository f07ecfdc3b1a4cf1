package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/usecase"
)

const (
	JobEmailDrain   = "email_drain"
	JobReminders    = "activation_reminders"
	JobExpiryNotice = "expiry_notifications"
	JobGuardSweep   = "guard_sweep"
	JobCleanup      = "cleanup"
)

type EmailQueue interface {
	Drain(ctx context.Context) (usecase.DrainReport, error)
	RetryFailed(ctx context.Context, olderThan time.Duration) (int, error)
	CleanOld(ctx context.Context, olderThan time.Duration) (int, error)
}

type Notifier interface {
	SendReminders(ctx context.Context) (int, error)
	SendExpiryNotifications(ctx context.Context) (int, error)
}

type AuditPurger interface {
	Purge(ctx context.Context, retentionDays int) (int, error)
}

// Jobs is everything the periodic jobs act on.
type Jobs struct {
	Emails    EmailQueue
	Notifier  Notifier
	Audit     AuditPurger
	Sweepers  []repository.Sweeper
	Retention Retention
}

type Retention struct {
	EmailDays  int
	AuditDays  int
	RetryAfter time.Duration
}

// Register schedules the standard job set on s.
func Register(s *Scheduler, cfg config.SchedulerConfig, j Jobs, logger *zerolog.Logger) error {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "jobs").Logger()
	}
	if j.Retention.EmailDays <= 0 {
		j.Retention.EmailDays = 30
	}
	if j.Retention.AuditDays <= 0 {
		j.Retention.AuditDays = 90
	}
	if j.Retention.RetryAfter <= 0 {
		j.Retention.RetryAfter = time.Hour
	}

	jobs := []struct {
		name, spec string
		fn         JobFunc
	}{
		{JobEmailDrain, or(cfg.DrainSpec, "@every 1m"), func(ctx context.Context) error {
			rep, err := j.Emails.Drain(ctx)
			if rep.Claimed > 0 {
				l.Info().Int("claimed", rep.Claimed).Int("sent", rep.Sent).
					Int("retrying", rep.Retrying).Int("failed", rep.Failed).Msg("email queue drained")
			}
			return err
		}},
		{JobReminders, or(cfg.ReminderSpec, "@hourly"), func(ctx context.Context) error {
			n, err := j.Notifier.SendReminders(ctx)
			if n > 0 {
				l.Info().Int("count", n).Msg("activation reminders queued")
			}
			return err
		}},
		{JobExpiryNotice, or(cfg.ExpirySpec, "@hourly"), func(ctx context.Context) error {
			n, err := j.Notifier.SendExpiryNotifications(ctx)
			if n > 0 {
				l.Info().Int("count", n).Msg("expiry notifications queued")
			}
			return err
		}},
		{JobGuardSweep, or(cfg.SweepSpec, "@hourly"), func(ctx context.Context) error {
			var errs []error
			total := 0
			for _, sw := range j.Sweepers {
				n, err := sw.Sweep(ctx)
				total += n
				errs = append(errs, err)
			}
			if total > 0 {
				l.Debug().Int("evicted", total).Msg("guard stores swept")
			}
			return errors.Join(errs...)
		}},
		{JobCleanup, or(cfg.CleanupSpec, "0 3 * * *"), func(ctx context.Context) error {
			retried, err1 := j.Emails.RetryFailed(ctx, j.Retention.RetryAfter)
			emails, err2 := j.Emails.CleanOld(ctx, time.Duration(j.Retention.EmailDays)*24*time.Hour)
			audits, err3 := j.Audit.Purge(ctx, j.Retention.AuditDays)
			l.Info().Int("emails_retried", retried).Int("emails_deleted", emails).
				Int("audit_deleted", audits).Msg("cleanup finished")
			return errors.Join(err1, err2, err3)
		}},
	}
	for _, job := range jobs {
		if job.name == JobGuardSweep && len(j.Sweepers) == 0 {
			continue
		}
		if err := s.Add(job.name, job.spec, job.fn); err != nil {
			return err
		}
	}
	return nil
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
