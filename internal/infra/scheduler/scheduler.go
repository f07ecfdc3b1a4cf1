package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"fleet-maintenance/internal/infra/metrics"
)

// Lease hands out a single-holder lock so only one instance runs a tick.
// redis.Locker satisfies it.
type Lease interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on cron specs. A tick never overlaps the previous
// tick of the same job.
type Scheduler struct {
	cron    *cron.Cron
	lease   Lease
	timeout time.Duration
	log     *zerolog.Logger
	jobs    map[string]func()
}

// New builds a scheduler. lease may be nil for single-instance deployments.
func New(timeout time.Duration, lease Lease, logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cl := cronLogger{log: &l}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		lease:   lease,
		timeout: timeout,
		log:     &l,
		jobs:    make(map[string]func()),
	}
}

// Add registers fn under name on spec.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	run := func() { s.run(name, fn) }
	if _, err := s.cron.AddFunc(spec, run); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = run
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop stops new ticks and waits for running ones until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

// RunNow executes one tick of name synchronously.
func (s *Scheduler) RunNow(name string) error {
	run, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	run()
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	l := s.log.With().Str("job", name).Logger()

	if s.lease != nil {
		token, err := s.lease.TryLock(ctx, "job:"+name, s.timeout)
		if err != nil {
			l.Debug().Err(err).Msg("lease not acquired; skipping tick")
			return
		}
		defer func() {
			if err := s.lease.Unlock(context.WithoutCancel(ctx), "job:"+name, token); err != nil {
				l.Warn().Err(err).Msg("lease not released")
			}
		}()
	}

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveJob(name, time.Since(start), err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		l.Error().Dur("timeout", s.timeout).Msg("job timed out")
	case err != nil:
		l.Error().Err(err).Msg("job failed")
	default:
		l.Debug().Dur("duration", time.Since(start)).Msg("job finished")
	}
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
