// File: internal/usecase/email_queue_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/adapter"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/metrics"
)

// Template names known to the activation flows.
const (
	TemplateActivationCode      = "activation_code"
	TemplateActivationReminder  = "activation_reminder"
	TemplateActivationExpired   = "activation_expired"
	TemplateActivationConfirmed = "activation_confirmed"
	TemplateCodeRegenerated     = "activation_regenerated"
	TemplateRegenerationVerify  = "regeneration_verification"
)

type EmailQueuePolicy struct {
	BatchSize   int
	MaxAttempts int
	SendTimeout time.Duration
	// ClaimTTL is how long a processing item may go untouched before a drain
	// treats its claim as abandoned. Defaults to one send timeout per batch
	// slot plus one.
	ClaimTTL time.Duration
}

// EnqueueRequest describes one templated email.
type EnqueueRequest struct {
	To          string
	Template    string
	Data        map[string]any
	Priority    model.EmailPriority
	ScheduledAt time.Time
	MaxAttempts int
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Recovered int
	Claimed   int
	Sent      int
	Retrying  int
	Failed    int
	Released  int
}

const (
	outcomeSent     = "sent"
	outcomeRetrying = "retrying"
	outcomeFailed   = "failed"
	outcomeReleased = "released"
)

// EmailQueueUseCase persists templated emails and delivers them in priority order.
type EmailQueueUseCase struct {
	queue     repository.EmailQueueRepository
	delivered repository.DeliveryLogRepository
	renderer  adapter.TemplateRenderer
	transport adapter.EmailTransport
	policy    EmailQueuePolicy
	log       *zerolog.Logger
	now       func() time.Time
	flight    singleflight.Group
}

func NewEmailQueueUseCase(
	queue repository.EmailQueueRepository,
	delivered repository.DeliveryLogRepository,
	renderer adapter.TemplateRenderer,
	transport adapter.EmailTransport,
	policy EmailQueuePolicy,
	logger *zerolog.Logger,
) *EmailQueueUseCase {
	if policy.BatchSize <= 0 {
		policy.BatchSize = 10
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.SendTimeout <= 0 {
		policy.SendTimeout = 30 * time.Second
	}
	if policy.ClaimTTL <= 0 {
		policy.ClaimTTL = time.Duration(policy.BatchSize+1) * policy.SendTimeout
	}
	return &EmailQueueUseCase{
		queue:     queue,
		delivered: delivered,
		renderer:  renderer,
		transport: transport,
		policy:    policy,
		log:       componentLogger(logger, "email_queue"),
		now:       time.Now,
	}
}

// Enqueue renders only the subject line and persists a pending item. The body
// is rendered at send time.
func (q *EmailQueueUseCase) Enqueue(ctx context.Context, req EnqueueRequest) (*model.EmailQueueItem, error) {
	to := strings.TrimSpace(req.To)
	if to == "" || !strings.Contains(to, "@") {
		return nil, fmt.Errorf("%w: recipient", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Template) == "" {
		return nil, fmt.Errorf("%w: template", domain.ErrInvalidArgument)
	}
	subject, err := q.renderer.Subject(req.Template, req.Data)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}

	now := q.now().UTC()
	item := &model.EmailQueueItem{
		ID:           uuid.NewString(),
		To:           to,
		Subject:      subject,
		TemplateName: req.Template,
		TemplateData: req.Data,
		Priority:     req.Priority,
		Status:       model.EmailStatusPending,
		MaxAttempts:  req.MaxAttempts,
		ScheduledAt:  req.ScheduledAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if item.Priority == "" {
		item.Priority = model.EmailPriorityNormal
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = q.policy.MaxAttempts
	}
	if req.ScheduledAt.IsZero() {
		item.ScheduledAt = now
	}
	if item.TemplateData == nil {
		item.TemplateData = map[string]any{}
	}
	if err := q.queue.Create(ctx, repository.NoTX, item); err != nil {
		return nil, fmt.Errorf("enqueue email: %w", err)
	}
	metrics.IncEmailEnqueued(item.TemplateName, string(item.Priority))
	q.log.Debug().Str("email_id", item.ID).Str("template", item.TemplateName).Str("priority", string(item.Priority)).Msg("email enqueued")
	return item, nil
}

// Drain runs one delivery pass. Concurrent callers share the running pass.
func (q *EmailQueueUseCase) Drain(ctx context.Context) (DrainReport, error) {
	v, err, _ := q.flight.Do("drain", func() (interface{}, error) {
		return q.drain(ctx)
	})
	rep, _ := v.(DrainReport)
	return rep, err
}

func (q *EmailQueueUseCase) drain(ctx context.Context) (DrainReport, error) {
	start := time.Now()
	defer func() { metrics.ObserveDrain(time.Since(start)) }()

	var rep DrainReport
	now := q.now().UTC()
	n, err := q.queue.RecoverStale(ctx, repository.NoTX, now.Add(-q.policy.ClaimTTL), now)
	if err != nil {
		q.log.Warn().Err(err).Msg("abandoned email claims not recovered")
	} else if n > 0 {
		rep.Recovered = n
		q.log.Warn().Int("count", n).Msg("abandoned email claims recovered")
	}

	items, err := q.queue.ClaimDue(ctx, now, q.policy.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("claim due emails: %w", err)
	}
	rep.Claimed = len(items)

	for i, item := range items {
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				q.release(ctx, rest)
			}
			rep.Released += len(items) - i
			break
		}
		switch q.deliver(ctx, item) {
		case outcomeSent:
			rep.Sent++
		case outcomeFailed:
			rep.Failed++
		case outcomeReleased:
			rep.Released++
		default:
			rep.Retrying++
		}
	}
	if rep.Claimed > 0 {
		q.log.Info().Int("claimed", rep.Claimed).Int("sent", rep.Sent).Int("retrying", rep.Retrying).
			Int("failed", rep.Failed).Int("released", rep.Released).Msg("email drain finished")
	}
	if rep.Released > 0 {
		return rep, fmt.Errorf("email drain interrupted: %w", ctx.Err())
	}
	return rep, nil
}

// deliver sends one claimed item and records the outcome. Status writes run
// detached from ctx so a cancelled drain never strands an item in processing.
func (q *EmailQueueUseCase) deliver(ctx context.Context, item *model.EmailQueueItem) string {
	l := q.log.With().Str("email_id", item.ID).Str("template", item.TemplateName).Int("attempt", item.Attempts).Logger()
	wctx := context.WithoutCancel(ctx)

	msgID, sendErr := q.send(ctx, item)
	if sendErr == nil {
		now := q.now().UTC()
		if err := q.queue.MarkSent(wctx, repository.NoTX, item.ID, now); err != nil {
			l.Error().Err(err).Msg("email sent but status update failed")
		}
		entry := &model.DeliveryLog{
			ID:           uuid.NewString(),
			QueueItemID:  item.ID,
			To:           item.To,
			TemplateName: item.TemplateName,
			MessageID:    msgID,
			SentAt:       now,
		}
		if err := q.delivered.Save(wctx, repository.NoTX, entry); err != nil {
			l.Warn().Err(err).Msg("delivery log not saved")
		}
		metrics.IncEmailOutcome(outcomeSent)
		return outcomeSent
	}

	if ctx.Err() != nil {
		q.release(ctx, item)
		l.Warn().Err(sendErr).Msg("email drain cancelled during send; claim released")
		return outcomeReleased
	}
	if item.Attempts >= item.MaxAttempts {
		if err := q.queue.MarkFailed(wctx, repository.NoTX, item.ID, sendErr.Error(), q.now().UTC()); err != nil {
			l.Error().Err(err).Msg("could not mark email failed")
		}
		metrics.IncEmailOutcome(outcomeFailed)
		l.Error().Err(sendErr).Msg("email delivery failed permanently")
		return outcomeFailed
	}
	if err := q.queue.Requeue(wctx, repository.NoTX, item.ID, sendErr.Error()); err != nil {
		l.Error().Err(err).Msg("could not requeue email")
	}
	metrics.IncEmailOutcome(outcomeRetrying)
	l.Warn().Err(sendErr).Msg("email delivery failed; will retry")
	return outcomeRetrying
}

func (q *EmailQueueUseCase) release(ctx context.Context, item *model.EmailQueueItem) {
	if err := q.queue.Release(context.WithoutCancel(ctx), repository.NoTX, item.ID, q.now().UTC()); err != nil {
		q.log.Error().Err(err).Str("email_id", item.ID).Msg("could not release email claim")
	}
	metrics.IncEmailOutcome(outcomeReleased)
}

func (q *EmailQueueUseCase) send(ctx context.Context, item *model.EmailQueueItem) (string, error) {
	rendered, err := q.renderer.Render(item.TemplateName, item.TemplateData)
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	subject := item.Subject
	if subject == "" {
		subject = rendered.Subject
	}
	sendCtx, cancel := context.WithTimeout(ctx, q.policy.SendTimeout)
	defer cancel()
	id, err := q.transport.Send(sendCtx, adapter.EmailMessage{
		To:       item.To,
		Subject:  subject,
		HTML:     rendered.HTML,
		Text:     rendered.Text,
		Category: item.TemplateName,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: send timed out after %s", domain.ErrTransportUnavailable, q.policy.SendTimeout)
		}
		return "", err
	}
	return id, nil
}

// RetryFailed resets failures older than olderThan back to pending.
func (q *EmailQueueUseCase) RetryFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: negative age", domain.ErrInvalidArgument)
	}
	n, err := q.queue.RetryFailed(ctx, repository.NoTX, q.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Info().Int("count", n).Dur("older_than", olderThan).Msg("failed emails reset to pending")
	}
	return n, nil
}

// CleanOld purges sent and failed items older than olderThan.
func (q *EmailQueueUseCase) CleanOld(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.queue.DeleteTerminalBefore(ctx, repository.NoTX, q.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.log.Info().Int("count", n).Msg("old emails cleaned")
	}
	return n, nil
}

func (q *EmailQueueUseCase) Stats(ctx context.Context) (*model.EmailQueueStats, error) {
	return q.queue.Stats(ctx, repository.NoTX)
}
