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

var _ repository.ActivationCodeRepository = (*ActivationCodeRepo)(nil)

type ActivationCodeRepo struct {
	mu     sync.RWMutex
	byID   map[string]*model.ActivationCode
	byCode map[string]string
}

func NewActivationCodeRepo() *ActivationCodeRepo {
	return &ActivationCodeRepo{
		byID:   make(map[string]*model.ActivationCode),
		byCode: make(map[string]string),
	}
}

func cloneCode(c *model.ActivationCode) *model.ActivationCode {
	cp := *c
	if c.ActivatedAt != nil {
		cp.ActivatedAt = timePtr(*c.ActivatedAt)
	}
	if c.ReminderSentAt != nil {
		cp.ReminderSentAt = timePtr(*c.ReminderSentAt)
	}
	if c.LockedUntil != nil {
		cp.LockedUntil = timePtr(*c.LockedUntil)
	}
	return &cp
}

func (r *ActivationCodeRepo) Save(ctx context.Context, tx repository.Tx, code *model.ActivationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byCode[code.Code]; ok && id != code.ID {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.byID[code.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.byID[code.ID] = cloneCode(code)
	r.byCode[code.Code] = code.ID
	return nil
}

func (r *ActivationCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.ActivationCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCode(r.byID[id]), nil
}

func (r *ActivationCodeRepo) CodeExists(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byCode[code]
	return ok, nil
}

func (r *ActivationCodeRepo) ListByCompany(ctx context.Context, tx repository.Tx, companyID string) ([]*model.ActivationCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.ActivationCode
	for _, c := range r.byID {
		if c.CompanyID == companyID {
			out = append(out, cloneCode(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// LockCompany is a no-op; TxManager already serializes transactions.
func (r *ActivationCodeRepo) LockCompany(ctx context.Context, tx repository.Tx, companyID string) error {
	return nil
}

func (r *ActivationCodeRepo) CountRegenerated(ctx context.Context, tx repository.Tx, companyID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.byID {
		if c.CompanyID == companyID && c.Regenerated {
			n++
		}
	}
	return n, nil
}

func (r *ActivationCodeRepo) SupersedeLive(ctx context.Context, tx repository.Tx, companyID, exceptID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.byID {
		if c.CompanyID != companyID || id == exceptID || c.ActivatedAt != nil || c.Regenerated {
			continue
		}
		c.Regenerated = true
		c.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *ActivationCodeRepo) MarkActivated(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return r.update(id, func(c *model.ActivationCode) bool {
		if c.ActivatedAt != nil || c.Regenerated || !c.ExpiresAt.After(at) {
			return false
		}
		c.ActivatedAt = timePtr(at)
		c.UpdatedAt = at
		return true
	})
}

func (r *ActivationCodeRepo) Expire(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	_, err := r.update(id, func(c *model.ActivationCode) bool {
		c.ExpiresAt = at
		c.UpdatedAt = at
		return true
	})
	return err
}

func (r *ActivationCodeRepo) ListReminderDue(ctx context.Context, tx repository.Tx, now, until time.Time, limit int) ([]*model.ActivationCode, error) {
	return r.list(limit, func(c *model.ActivationCode) bool {
		return c.ActivatedAt == nil && !c.Regenerated && c.ReminderSentAt == nil &&
			c.ExpiresAt.After(now) && !c.ExpiresAt.After(until)
	}), nil
}

func (r *ActivationCodeRepo) ListExpiryNoticeDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ActivationCode, error) {
	return r.list(limit, func(c *model.ActivationCode) bool {
		return c.ActivatedAt == nil && !c.Regenerated && !c.ExpiredNotificationSent && c.ExpiresAt.Before(now)
	}), nil
}

func (r *ActivationCodeRepo) ClaimReminder(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return r.update(id, func(c *model.ActivationCode) bool {
		if c.ReminderSentAt != nil {
			return false
		}
		c.ReminderSentAt = timePtr(at)
		c.UpdatedAt = at
		return true
	})
}

func (r *ActivationCodeRepo) ReleaseReminder(ctx context.Context, tx repository.Tx, id string) error {
	_, err := r.update(id, func(c *model.ActivationCode) bool {
		c.ReminderSentAt = nil
		return true
	})
	return err
}

func (r *ActivationCodeRepo) ClaimExpiryNotice(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return r.update(id, func(c *model.ActivationCode) bool {
		if c.ExpiredNotificationSent {
			return false
		}
		c.ExpiredNotificationSent = true
		c.UpdatedAt = at
		return true
	})
}

func (r *ActivationCodeRepo) ReleaseExpiryNotice(ctx context.Context, tx repository.Tx, id string) error {
	_, err := r.update(id, func(c *model.ActivationCode) bool {
		c.ExpiredNotificationSent = false
		return true
	})
	return err
}

func (r *ActivationCodeRepo) IncrementAttempts(ctx context.Context, tx repository.Tx, code string, at time.Time) error {
	return r.updateByCode(code, func(c *model.ActivationCode) {
		c.AttemptCount++
		c.UpdatedAt = at
	})
}

func (r *ActivationCodeRepo) FlagSuspicious(ctx context.Context, tx repository.Tx, code string, at time.Time) error {
	return r.updateByCode(code, func(c *model.ActivationCode) {
		c.SuspiciousActivity = true
		c.UpdatedAt = at
	})
}

func (r *ActivationCodeRepo) update(id string, fn func(c *model.ActivationCode) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	return fn(c), nil
}

func (r *ActivationCodeRepo) updateByCode(code string, fn func(c *model.ActivationCode)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCode[code]
	if !ok || r.byID[id].Regenerated {
		return domain.ErrNotFound
	}
	fn(r.byID[id])
	return nil
}

func (r *ActivationCodeRepo) list(limit int, keep func(c *model.ActivationCode) bool) []*model.ActivationCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.ActivationCode
	for _, c := range r.byID {
		if keep(c) {
			out = append(out, cloneCode(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
