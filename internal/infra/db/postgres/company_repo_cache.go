package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/metrics"
	red "fleet-maintenance/internal/infra/redis"
)

var _ repository.CompanyRepository = (*companyRepoCacheDecorator)(nil)

// companyRepoCacheDecorator caches company lookups. Companies are owned by the
// fleet CRUD service, so entries only age out by TTL.
type companyRepoCacheDecorator struct {
	inner repository.CompanyRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewCompanyRepoCacheDecorator(inner repository.CompanyRepository, cache red.RedisClient, ttl time.Duration) repository.CompanyRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &companyRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func companyIDKey(id string) string       { return "fleet:company:id:" + id }
func companyEmailKey(email string) string { return "fleet:company:email:" + strings.ToLower(email) }

func (d *companyRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Company, error) {
	if c := d.lookup(ctx, companyIDKey(id)); c != nil {
		return c, nil
	}
	c, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, c)
	return c, nil
}

func (d *companyRepoCacheDecorator) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Company, error) {
	if c := d.lookup(ctx, companyEmailKey(email)); c != nil {
		return c, nil
	}
	c, err := d.inner.FindByEmail(ctx, tx, email)
	if err != nil {
		return nil, err
	}
	d.store(ctx, c)
	return c, nil
}

func (d *companyRepoCacheDecorator) lookup(ctx context.Context, key string) *model.Company {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.IncCacheRequest("company", "miss")
		} else {
			metrics.IncCacheRequest("company", "error")
		}
		return nil
	}
	var c model.Company
	if json.Unmarshal([]byte(val), &c) != nil {
		metrics.IncCacheRequest("company", "error")
		return nil
	}
	metrics.IncCacheRequest("company", "hit")
	return &c
}

// store warms both keys so either lookup hits next time.
func (d *companyRepoCacheDecorator) store(ctx context.Context, c *model.Company) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, companyIDKey(c.ID), raw, d.ttl)
	_ = d.cache.Set(ctx, companyEmailKey(c.Email), raw, d.ttl)
}
