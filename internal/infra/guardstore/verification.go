package guardstore

import (
	"context"
	"sync"
	"time"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/ports/repository"
)

var (
	_ repository.VerificationStore = (*VerificationStore)(nil)
	_ repository.Sweeper           = (*VerificationStore)(nil)
)

type verification struct {
	code      string
	failures  int
	expiresAt time.Time
}

type VerificationStore struct {
	mu      sync.Mutex
	entries map[string]verification
	opts    options
}

func NewVerificationStore(opts ...Option) *VerificationStore {
	return &VerificationStore{entries: make(map[string]verification), opts: buildOptions(opts)}
}

func (s *VerificationStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = verification{code: code, expiresAt: now.Add(ttl)}
	return nil
}

func (s *VerificationStore) Get(ctx context.Context, key string) (string, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok || !now.Before(v.expiresAt) {
		return "", domain.ErrNotFound
	}
	return v.code, nil
}

func (s *VerificationStore) Fail(ctx context.Context, key string) (int, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	if !ok || !now.Before(v.expiresAt) {
		return 0, domain.ErrNotFound
	}
	v.failures++
	s.entries[key] = v
	return v.failures, nil
}

func (s *VerificationStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *VerificationStore) Sweep(ctx context.Context) (int, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.entries {
		if !now.Before(v.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
