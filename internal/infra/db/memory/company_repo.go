package memory

import (
	"context"
	"strings"
	"sync"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.CompanyRepository = (*CompanyRepo)(nil)

// CompanyRepo holds companies put there by seeding or tests.
type CompanyRepo struct {
	mu   sync.RWMutex
	byID map[string]*model.Company
}

func NewCompanyRepo(seed ...*model.Company) *CompanyRepo {
	r := &CompanyRepo{byID: make(map[string]*model.Company)}
	for _, c := range seed {
		r.Put(c)
	}
	return r
}

func (r *CompanyRepo) Put(c *model.Company) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.byID[c.ID] = &cp
}

func (r *CompanyRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CompanyRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byID {
		if strings.EqualFold(c.Email, strings.TrimSpace(email)) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}
