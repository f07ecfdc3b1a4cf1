package guardstore

import (
	"context"
	"sync"
	"time"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var (
	_ repository.RateLimitStore = (*RateLimitStore)(nil)
	_ repository.Sweeper        = (*RateLimitStore)(nil)
)

type bucket struct {
	consumed     int
	resetAt      time.Time
	blockedUntil time.Time
}

type RateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	opts    options
}

func NewRateLimitStore(opts ...Option) *RateLimitStore {
	return &RateLimitStore{buckets: make(map[string]*bucket), opts: buildOptions(opts)}
}

func (s *RateLimitStore) Consume(ctx context.Context, key string, p model.RateLimitPolicy) (repository.RateLimitCounter, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.buckets[key]
	if b != nil && now.Before(b.blockedUntil) {
		return repository.RateLimitCounter{Consumed: b.consumed, ResetIn: b.blockedUntil.Sub(now), Blocked: true}, nil
	}
	if b == nil || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(p.Duration)}
		s.buckets[key] = b
	}
	b.consumed++
	if b.consumed > p.Points {
		block := p.BlockDuration
		if block <= 0 {
			block = b.resetAt.Sub(now)
		}
		b.blockedUntil = now.Add(block)
		b.resetAt = b.blockedUntil
		return repository.RateLimitCounter{Consumed: b.consumed, ResetIn: block, Blocked: true}, nil
	}
	return repository.RateLimitCounter{Consumed: b.consumed, ResetIn: b.resetAt.Sub(now)}, nil
}

func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Sweep drops buckets whose window and block have both elapsed.
func (s *RateLimitStore) Sweep(ctx context.Context) (int, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, b := range s.buckets {
		if !now.Before(b.resetAt) && !now.Before(b.blockedUntil) {
			delete(s.buckets, k)
			n++
		}
	}
	return n, nil
}
