//go:build !integration

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/ports/repository"
	red "fleet-maintenance/internal/infra/redis"
	"fleet-maintenance/internal/usecase"
)

type fakeQueue struct {
	mu                      sync.Mutex
	drains, retries, cleans int
	retryAfter, cleanOlder  time.Duration
	drainErr                error
}

func (q *fakeQueue) Drain(ctx context.Context) (usecase.DrainReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drains++
	return usecase.DrainReport{Claimed: 1, Sent: 1}, q.drainErr
}

func (q *fakeQueue) RetryFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries++
	q.retryAfter = olderThan
	return 0, nil
}

func (q *fakeQueue) CleanOld(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleans++
	q.cleanOlder = olderThan
	return 2, nil
}

type fakeNotifier struct {
	reminders, expiries int
}

func (n *fakeNotifier) SendReminders(ctx context.Context) (int, error) {
	n.reminders++
	return 1, nil
}

func (n *fakeNotifier) SendExpiryNotifications(ctx context.Context) (int, error) {
	n.expiries++
	return 0, nil
}

type fakePurger struct {
	days int
	err  error
}

func (p *fakePurger) Purge(ctx context.Context, retentionDays int) (int, error) {
	p.days = retentionDays
	return 0, p.err
}

type fakeSweeper struct{ calls int }

func (s *fakeSweeper) Sweep(ctx context.Context) (int, error) {
	s.calls++
	return 3, nil
}

func TestRegisterAndRun(t *testing.T) {
	q := &fakeQueue{}
	n := &fakeNotifier{}
	p := &fakePurger{}
	sw1, sw2 := &fakeSweeper{}, &fakeSweeper{}

	s := New(time.Second, nil, nil)
	require.NoError(t, Register(s, config.SchedulerConfig{}, Jobs{
		Emails:   q,
		Notifier: n,
		Audit:    p,
		Sweepers: []repository.Sweeper{sw1, sw2},
	}, nil))

	for _, name := range []string{JobEmailDrain, JobReminders, JobExpiryNotice, JobGuardSweep, JobCleanup} {
		require.NoError(t, s.RunNow(name), name)
	}
	assert.Equal(t, 1, q.drains)
	assert.Equal(t, 1, n.reminders)
	assert.Equal(t, 1, n.expiries)
	assert.Equal(t, 1, sw1.calls)
	assert.Equal(t, 1, sw2.calls)
	assert.Equal(t, time.Hour, q.retryAfter)
	assert.Equal(t, 30*24*time.Hour, q.cleanOlder)
	assert.Equal(t, 90, p.days)

	assert.Error(t, s.RunNow("nope"))
}

func TestCleanupRunsEveryStepDespiteErrors(t *testing.T) {
	q := &fakeQueue{}
	p := &fakePurger{err: errors.New("db down")}
	s := New(time.Second, nil, nil)
	require.NoError(t, Register(s, config.SchedulerConfig{}, Jobs{
		Emails:    q,
		Notifier:  &fakeNotifier{},
		Audit:     p,
		Retention: Retention{EmailDays: 7, AuditDays: 30, RetryAfter: 10 * time.Minute},
	}, nil))

	require.NoError(t, s.RunNow(JobCleanup))
	assert.Equal(t, 1, q.retries)
	assert.Equal(t, 1, q.cleans)
	assert.Equal(t, 7*24*time.Hour, q.cleanOlder)
	assert.Equal(t, 10*time.Minute, q.retryAfter)
	assert.Equal(t, 30, p.days)

	assert.Error(t, s.RunNow(JobGuardSweep), "sweep is not scheduled without sweepers")
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(time.Second, nil, nil)
	noop := func(ctx context.Context) error { return nil }
	require.NoError(t, s.Add("a", "@every 1m", noop))
	assert.Error(t, s.Add("a", "@every 1m", noop))
	assert.Error(t, s.Add("b", "not a spec", noop))
}

func TestRunHonoursTimeout(t *testing.T) {
	s := New(20*time.Millisecond, nil, nil)
	var sawDeadline bool
	require.NoError(t, s.Add("slow", "@hourly", func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return ctx.Err()
	}))
	require.NoError(t, s.RunNow("slow"))
	assert.True(t, sawDeadline)
}

func TestLeaseSkipsWhenHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := red.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	locker := red.NewLocker(cli)

	calls := 0
	s := New(time.Minute, locker, nil)
	require.NoError(t, s.Add("leased", "@hourly", func(ctx context.Context) error {
		calls++
		return nil
	}))

	token, err := locker.TryLock(context.Background(), "job:leased", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.RunNow("leased"))
	assert.Equal(t, 0, calls, "another holder owns the lease")

	require.NoError(t, locker.Unlock(context.Background(), "job:leased", token))
	require.NoError(t, s.RunNow("leased"))
	assert.Equal(t, 1, calls)

	require.NoError(t, s.RunNow("leased"))
	assert.Equal(t, 2, calls, "lease is released after each tick")
}

func TestStartStop(t *testing.T) {
	s := New(time.Second, nil, nil)
	require.NoError(t, s.Add("tick", "@every 1h", func(ctx context.Context) error { return nil }))
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
