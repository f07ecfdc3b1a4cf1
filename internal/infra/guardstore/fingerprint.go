package guardstore

import (
	"context"
	"sync"
	"time"

	"fleet-maintenance/internal/domain/ports/repository"
)

var (
	_ repository.FingerprintStore = (*FingerprintStore)(nil)
	_ repository.Sweeper          = (*FingerprintStore)(nil)
)

type FingerprintStore struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	captcha  map[string]time.Time
	seen     map[string]time.Time
	opts     options
}

func NewFingerprintStore(opts ...Option) *FingerprintStore {
	return &FingerprintStore{
		failures: make(map[string][]time.Time),
		captcha:  make(map[string]time.Time),
		seen:     make(map[string]time.Time),
		opts:     buildOptions(opts),
	}
}

func (s *FingerprintStore) AddFailure(ctx context.Context, fp string, window time.Duration) (int, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := prune(s.failures[fp], now.Add(-window))
	kept = append(kept, now)
	s.failures[fp] = kept
	return len(kept), nil
}

func (s *FingerprintStore) ClearFailures(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, fp)
	return nil
}

func (s *FingerprintStore) RequireCaptcha(ctx context.Context, fp string, ttl time.Duration) error {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captcha[fp] = now.Add(ttl)
	return nil
}

func (s *FingerprintStore) CaptchaRequired(ctx context.Context, fp string) (bool, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.captcha[fp]
	return ok && now.Before(exp), nil
}

func (s *FingerprintStore) ClearCaptcha(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.captcha, fp)
	return nil
}

func (s *FingerprintStore) SeenRecently(ctx context.Context, key string, within time.Duration) (bool, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.seen[key]
	s.seen[key] = now
	return ok && now.Sub(last) < within, nil
}

// Sweep evicts failures, flags and rapid-fire marks older than the retention.
func (s *FingerprintStore) Sweep(ctx context.Context) (int, error) {
	now := s.opts.now()
	cutoff := now.Add(-s.opts.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for fp, ts := range s.failures {
		kept := prune(ts, cutoff)
		if len(kept) == 0 {
			delete(s.failures, fp)
			n++
			continue
		}
		s.failures[fp] = kept
	}
	for fp, exp := range s.captcha {
		if !now.Before(exp) {
			delete(s.captcha, fp)
			n++
		}
	}
	for k, last := range s.seen {
		if last.Before(cutoff) {
			delete(s.seen, k)
			n++
		}
	}
	return n, nil
}

// prune keeps timestamps after cutoff. ts is ordered oldest first.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return append([]time.Time(nil), ts[i:]...)
}
