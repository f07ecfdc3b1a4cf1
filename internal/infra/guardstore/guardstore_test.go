//go:build !integration

package guardstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRateLimitStoreBlocksThenRecovers(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewRateLimitStore(WithClock(clock.Now))
	policy := model.RateLimitPolicy{Points: 5, Duration: time.Hour, BlockDuration: time.Hour}

	for i := 1; i <= 5; i++ {
		c, err := s.Consume(ctx, "usage:k", policy)
		require.NoError(t, err)
		assert.False(t, c.Blocked, "attempt %d", i)
		assert.Equal(t, i, c.Consumed)
	}

	c, err := s.Consume(ctx, "usage:k", policy)
	require.NoError(t, err)
	assert.True(t, c.Blocked)
	assert.Equal(t, time.Hour, c.ResetIn)

	clock.Advance(30 * time.Minute)
	c, _ = s.Consume(ctx, "usage:k", policy)
	assert.True(t, c.Blocked)
	assert.Equal(t, 30*time.Minute, c.ResetIn)

	clock.Advance(30 * time.Minute)
	c, _ = s.Consume(ctx, "usage:k", policy)
	assert.False(t, c.Blocked)
	assert.Equal(t, 1, c.Consumed)
}

func TestRateLimitStoreKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewRateLimitStore()
	policy := model.RateLimitPolicy{Points: 1, Duration: time.Minute, BlockDuration: time.Minute}

	_, _ = s.Consume(ctx, "a", policy)
	c, _ := s.Consume(ctx, "a", policy)
	assert.True(t, c.Blocked)

	c, _ = s.Consume(ctx, "b", policy)
	assert.False(t, c.Blocked)

	require.NoError(t, s.Reset(ctx, "a"))
	c, _ = s.Consume(ctx, "a", policy)
	assert.False(t, c.Blocked)
}

func TestRateLimitStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewRateLimitStore(WithClock(clock.Now))
	policy := model.RateLimitPolicy{Points: 10, Duration: time.Minute}
	_, _ = s.Consume(ctx, "a", policy)

	n, _ := s.Sweep(ctx)
	assert.Zero(t, n)

	clock.Advance(time.Minute)
	n, _ = s.Sweep(ctx)
	assert.Equal(t, 1, n)
}

func TestFingerprintStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewFingerprintStore(WithClock(clock.Now))

	t.Run("failures age out of the window", func(t *testing.T) {
		n, _ := s.AddFailure(ctx, "fp", time.Hour)
		assert.Equal(t, 1, n)
		clock.Advance(40 * time.Minute)
		n, _ = s.AddFailure(ctx, "fp", time.Hour)
		assert.Equal(t, 2, n)
		clock.Advance(30 * time.Minute)
		n, _ = s.AddFailure(ctx, "fp", time.Hour)
		assert.Equal(t, 2, n)
	})

	t.Run("captcha flag expires", func(t *testing.T) {
		require.NoError(t, s.RequireCaptcha(ctx, "fp2", time.Hour))
		ok, _ := s.CaptchaRequired(ctx, "fp2")
		assert.True(t, ok)
		clock.Advance(time.Hour)
		ok, _ = s.CaptchaRequired(ctx, "fp2")
		assert.False(t, ok)
	})

	t.Run("seen recently", func(t *testing.T) {
		seen, _ := s.SeenRecently(ctx, "ip|code", time.Second)
		assert.False(t, seen)
		clock.Advance(500 * time.Millisecond)
		seen, _ = s.SeenRecently(ctx, "ip|code", time.Second)
		assert.True(t, seen)
		clock.Advance(2 * time.Second)
		seen, _ = s.SeenRecently(ctx, "ip|code", time.Second)
		assert.False(t, seen)
	})

	t.Run("sweep evicts entries older than an hour", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Positive(t, n)
		assert.Empty(t, s.failures)
		assert.Empty(t, s.seen)
	})
}

func TestCodeShareStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewCodeShareStore(WithClock(clock.Now))

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.1"} {
		_, err := s.AddIP(ctx, "ABC-123", ip, 24*time.Hour)
		require.NoError(t, err)
	}
	ips, _ := s.AddIP(ctx, "ABC-123", "10.0.0.3", 24*time.Hour)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, ips)

	first, _ := s.MarkAlerted(ctx, "ABC-123", 24*time.Hour)
	again, _ := s.MarkAlerted(ctx, "ABC-123", 24*time.Hour)
	assert.True(t, first)
	assert.False(t, again)

	clock.Advance(25 * time.Hour)
	n, _ := s.Sweep(ctx)
	assert.Equal(t, 2, n)
}

func TestVerificationStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewVerificationStore(WithClock(clock.Now))

	require.NoError(t, s.Put(ctx, "k", "123456", 15*time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "123456", got)

	clock.Advance(15 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n, _ := s.Sweep(ctx)
	assert.Equal(t, 1, n)
}

func TestVerificationStoreCountsMismatches(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewVerificationStore(WithClock(clock.Now))

	_, err := s.Fail(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", "123456", 15*time.Minute))
	for want := 1; want <= 3; want++ {
		n, err := s.Fail(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, s.Put(ctx, "k", "654321", 15*time.Minute))
	n, err := s.Fail(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a new code starts a new count")

	clock.Advance(15 * time.Minute)
	_, err = s.Fail(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
