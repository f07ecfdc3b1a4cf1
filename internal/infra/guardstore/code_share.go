package guardstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-maintenance/internal/domain/ports/repository"
)

var (
	_ repository.CodeShareStore = (*CodeShareStore)(nil)
	_ repository.Sweeper        = (*CodeShareStore)(nil)
)

type ipSet struct {
	ips       map[string]struct{}
	expiresAt time.Time
}

type CodeShareStore struct {
	mu      sync.Mutex
	sets    map[string]*ipSet
	alerted map[string]time.Time
	opts    options
}

func NewCodeShareStore(opts ...Option) *CodeShareStore {
	return &CodeShareStore{
		sets:    make(map[string]*ipSet),
		alerted: make(map[string]time.Time),
		opts:    buildOptions(opts),
	}
}

func (s *CodeShareStore) AddIP(ctx context.Context, code, ip string, ttl time.Duration) ([]string, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[code]
	if set == nil || !now.Before(set.expiresAt) {
		set = &ipSet{ips: make(map[string]struct{})}
		s.sets[code] = set
	}
	set.ips[ip] = struct{}{}
	set.expiresAt = now.Add(ttl)

	out := make([]string, 0, len(set.ips))
	for k := range set.ips {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *CodeShareStore) MarkAlerted(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.alerted[code]; ok && now.Before(exp) {
		return false, nil
	}
	s.alerted[code] = now.Add(ttl)
	return true, nil
}

func (s *CodeShareStore) Sweep(ctx context.Context) (int, error) {
	now := s.opts.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for code, set := range s.sets {
		if !now.Before(set.expiresAt) {
			delete(s.sets, code)
			n++
		}
	}
	for code, exp := range s.alerted {
		if !now.Before(exp) {
			delete(s.alerted, code)
			n++
		}
	}
	return n, nil
}
