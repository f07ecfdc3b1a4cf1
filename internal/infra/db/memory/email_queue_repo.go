package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var (
	_ repository.EmailQueueRepository  = (*EmailQueueRepo)(nil)
	_ repository.DeliveryLogRepository = (*DeliveryLogRepo)(nil)
)

const staleClaimMessage = "delivery interrupted"

type EmailQueueRepo struct {
	mu    sync.Mutex
	items map[string]*model.EmailQueueItem
}

func NewEmailQueueRepo() *EmailQueueRepo {
	return &EmailQueueRepo{items: make(map[string]*model.EmailQueueItem)}
}

func cloneItem(i *model.EmailQueueItem) *model.EmailQueueItem {
	cp := *i
	cp.TemplateData = cloneMap(i.TemplateData)
	if i.SentAt != nil {
		cp.SentAt = timePtr(*i.SentAt)
	}
	if i.FailedAt != nil {
		cp.FailedAt = timePtr(*i.FailedAt)
	}
	return &cp
}

func (r *EmailQueueRepo) Create(ctx context.Context, tx repository.Tx, item *model.EmailQueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.items[item.ID] = cloneItem(item)
	return nil
}

func (r *EmailQueueRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EmailQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(i), nil
}

func (r *EmailQueueRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.EmailQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.EmailQueueItem
	for _, i := range r.items {
		if i.Due(now) {
			due = append(due, i)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		ra, rb := due[a].Priority.Rank(), due[b].Priority.Rank()
		if ra != rb {
			return ra < rb
		}
		if !due[a].ScheduledAt.Equal(due[b].ScheduledAt) {
			return due[a].ScheduledAt.Before(due[b].ScheduledAt)
		}
		return due[a].CreatedAt.Before(due[b].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*model.EmailQueueItem, 0, len(due))
	for _, i := range due {
		i.Status = model.EmailStatusProcessing
		i.Attempts++
		i.UpdatedAt = now
		out = append(out, cloneItem(i))
	}
	return out, nil
}

func (r *EmailQueueRepo) MarkSent(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	return r.update(id, func(i *model.EmailQueueItem) {
		i.Status = model.EmailStatusSent
		i.SentAt = timePtr(at)
		i.ErrorMessage = ""
		i.UpdatedAt = at
	})
}

func (r *EmailQueueRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, errMsg string, at time.Time) error {
	return r.update(id, func(i *model.EmailQueueItem) {
		i.Status = model.EmailStatusFailed
		i.FailedAt = timePtr(at)
		i.ErrorMessage = errMsg
		i.UpdatedAt = at
	})
}

func (r *EmailQueueRepo) Requeue(ctx context.Context, tx repository.Tx, id, errMsg string) error {
	return r.update(id, func(i *model.EmailQueueItem) {
		i.Status = model.EmailStatusPending
		i.ErrorMessage = errMsg
	})
}

func (r *EmailQueueRepo) Release(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	return r.update(id, func(i *model.EmailQueueItem) {
		if i.Status != model.EmailStatusProcessing {
			return
		}
		i.Status = model.EmailStatusPending
		if i.Attempts > 0 {
			i.Attempts--
		}
		i.UpdatedAt = at
	})
}

func (r *EmailQueueRepo) RecoverStale(ctx context.Context, tx repository.Tx, staleBefore, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.items {
		if i.Status != model.EmailStatusProcessing || !i.UpdatedAt.Before(staleBefore) {
			continue
		}
		i.ErrorMessage = staleClaimMessage
		i.UpdatedAt = at
		if i.Attempts >= i.MaxAttempts {
			i.Status = model.EmailStatusFailed
			i.FailedAt = timePtr(at)
		} else {
			i.Status = model.EmailStatusPending
		}
		n++
	}
	return n, nil
}

func (r *EmailQueueRepo) RetryFailed(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.items {
		if i.Status != model.EmailStatusFailed || i.FailedAt == nil || !i.FailedAt.Before(cutoff) {
			continue
		}
		i.Status = model.EmailStatusPending
		i.Attempts = 0
		i.ErrorMessage = ""
		i.FailedAt = nil
		n++
	}
	return n, nil
}

func (r *EmailQueueRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, i := range r.items {
		if !i.Status.Terminal() {
			continue
		}
		finished := i.UpdatedAt
		if i.SentAt != nil {
			finished = *i.SentAt
		} else if i.FailedAt != nil {
			finished = *i.FailedAt
		}
		if finished.Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func (r *EmailQueueRepo) Stats(ctx context.Context, tx repository.Tx) (*model.EmailQueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s model.EmailQueueStats
	for _, i := range r.items {
		switch i.Status {
		case model.EmailStatusPending:
			s.Pending++
		case model.EmailStatusProcessing:
			s.Processing++
		case model.EmailStatusSent:
			s.Sent++
		case model.EmailStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}

func (r *EmailQueueRepo) update(id string, fn func(i *model.EmailQueueItem)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(i)
	return nil
}

type DeliveryLogRepo struct {
	mu   sync.Mutex
	logs []*model.DeliveryLog
}

func NewDeliveryLogRepo() *DeliveryLogRepo { return &DeliveryLogRepo{} }

func (r *DeliveryLogRepo) Save(ctx context.Context, tx repository.Tx, log *model.DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.logs = append(r.logs, &cp)
	return nil
}

// All returns a copy of every recorded delivery, oldest first.
func (r *DeliveryLogRepo) All() []model.DeliveryLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.DeliveryLog, len(r.logs))
	for i, l := range r.logs {
		out[i] = *l
	}
	return out
}
