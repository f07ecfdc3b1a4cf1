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

var _ repository.SecurityAlertRepository = (*SecurityAlertRepo)(nil)

type SecurityAlertRepo struct {
	mu     sync.RWMutex
	alerts map[string]*model.SecurityAlert
}

func NewSecurityAlertRepo() *SecurityAlertRepo {
	return &SecurityAlertRepo{alerts: make(map[string]*model.SecurityAlert)}
}

func (r *SecurityAlertRepo) Save(ctx context.Context, tx repository.Tx, alert *model.SecurityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *alert
	cp.Metadata = cloneMap(alert.Metadata)
	r.alerts[alert.ID] = &cp
	return nil
}

func (r *SecurityAlertRepo) List(ctx context.Context, tx repository.Tx, resolved *bool, limit int) ([]*model.SecurityAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.SecurityAlert{}
	for _, a := range r.alerts {
		if resolved != nil && a.Resolved != *resolved {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SecurityAlertRepo) Resolve(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Resolved {
		return nil
	}
	a.Resolved = true
	a.ResolvedAt = timePtr(at)
	return nil
}
