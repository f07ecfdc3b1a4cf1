// File: internal/usecase/ratelimit_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/metrics"
)

// RateLimitDecision describes the state of one bucket after a consume.
type RateLimitDecision struct {
	Limiter    string
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter applies named policies to client keys through a RateLimitStore.
type RateLimiter struct {
	store    repository.RateLimitStore
	policies map[string]model.RateLimitPolicy
	log      *zerolog.Logger
	now      func() time.Time
}

func NewRateLimiter(store repository.RateLimitStore, policies map[string]model.RateLimitPolicy, logger *zerolog.Logger) *RateLimiter {
	if policies == nil {
		policies = model.DefaultRateLimitPolicies()
	}
	return &RateLimiter{store: store, policies: policies, log: componentLogger(logger, "ratelimit"), now: time.Now}
}

// Consume takes one point from limiter's bucket for key. A rejection returns
// the decision together with a *domain.RateLimitError. Store failures let the
// request through.
func (r *RateLimiter) Consume(ctx context.Context, limiter, key string) (RateLimitDecision, error) {
	policy, ok := r.policies[limiter]
	if !ok {
		return RateLimitDecision{}, fmt.Errorf("%w: unknown limiter %q", domain.ErrInvalidArgument, limiter)
	}
	now := r.now()
	dec := RateLimitDecision{Limiter: limiter, Allowed: true, Limit: policy.Points, Remaining: policy.Points}

	c, err := r.store.Consume(ctx, bucketKey(limiter, key), policy)
	if err != nil {
		r.log.Error().Err(err).Str("limiter", limiter).Msg("rate limit store failed; allowing request")
		dec.ResetAt = now.Add(policy.Duration)
		return dec, nil
	}

	dec.ResetAt = now.Add(c.ResetIn)
	dec.Remaining = policy.Points - c.Consumed
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}
	if c.Blocked || c.Consumed > policy.Points {
		dec.Allowed = false
		dec.Remaining = 0
		dec.RetryAfter = c.ResetIn
		if dec.RetryAfter <= 0 {
			dec.RetryAfter = time.Second
		}
		metrics.IncRateLimited(limiter)
		return dec, &domain.RateLimitError{Limiter: limiter, Limit: policy.Points, RetryAfter: dec.RetryAfter}
	}
	return dec, nil
}

// Reset clears a bucket, e.g. after an administrator lifts a block.
func (r *RateLimiter) Reset(ctx context.Context, limiter, key string) error {
	return r.store.Reset(ctx, bucketKey(limiter, key))
}

func bucketKey(limiter, key string) string {
	return limiter + ":" + key
}

// ClientKey joins the client IP with a secondary dimension such as a
// user-agent or an email address.
func ClientKey(ip, secondary string) string {
	if secondary == "" {
		return ip
	}
	return ip + "|" + secondary
}
