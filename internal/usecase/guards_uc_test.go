//go:build !integration

package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/db/memory"
	"fleet-maintenance/internal/infra/guardstore"
)

type failingRateStore struct{}

func (failingRateStore) Consume(ctx context.Context, key string, p model.RateLimitPolicy) (repository.RateLimitCounter, error) {
	return repository.RateLimitCounter{}, errors.New("store down")
}
func (failingRateStore) Reset(ctx context.Context, key string) error { return nil }

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("sixth consume in the window is rejected then recovers", func(t *testing.T) {
		clock := newFakeClock()
		store := guardstore.NewRateLimitStore(guardstore.WithClock(clock.Now))
		rl := NewRateLimiter(store, map[string]model.RateLimitPolicy{
			"usage": {Points: 5, Duration: time.Hour, BlockDuration: time.Hour},
		}, testLogger())
		rl.now = clock.Now

		for i := 0; i < 5; i++ {
			dec, err := rl.Consume(ctx, "usage", "1.2.3.4|ua")
			require.NoError(t, err)
			assert.True(t, dec.Allowed)
			assert.Equal(t, 4-i, dec.Remaining)
		}
		dec, err := rl.Consume(ctx, "usage", "1.2.3.4|ua")
		var rle *domain.RateLimitError
		require.ErrorAs(t, err, &rle)
		assert.ErrorIs(t, err, domain.ErrRateLimited)
		assert.False(t, dec.Allowed)
		assert.Greater(t, rle.RetryAfter, time.Duration(0))
		assert.Equal(t, domain.KindAbuse, domain.KindOf(err))

		other, err := rl.Consume(ctx, "usage", "5.6.7.8|ua")
		require.NoError(t, err)
		assert.True(t, other.Allowed)

		clock.Advance(time.Hour)
		dec, err = rl.Consume(ctx, "usage", "1.2.3.4|ua")
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	})

	t.Run("limiters are independent", func(t *testing.T) {
		rl := NewRateLimiter(guardstore.NewRateLimitStore(), map[string]model.RateLimitPolicy{
			"a": {Points: 1, Duration: time.Minute, BlockDuration: time.Minute},
			"b": {Points: 1, Duration: time.Minute, BlockDuration: time.Minute},
		}, testLogger())
		_, err := rl.Consume(ctx, "a", "k")
		require.NoError(t, err)
		_, err = rl.Consume(ctx, "a", "k")
		require.Error(t, err)
		_, err = rl.Consume(ctx, "b", "k")
		require.NoError(t, err)
	})

	t.Run("unknown limiter", func(t *testing.T) {
		rl := NewRateLimiter(guardstore.NewRateLimitStore(), nil, testLogger())
		_, err := rl.Consume(ctx, "nope", "k")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("store failure lets the request through", func(t *testing.T) {
		rl := NewRateLimiter(failingRateStore{}, nil, testLogger())
		dec, err := rl.Consume(ctx, model.LimiterValidation, "k")
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
	})
}

func TestBruteForceGuard(t *testing.T) {
	ctx := context.Background()
	fp := Fingerprint(ClientSignals{IP: "10.0.0.9", UserAgent: "curl/8", Accept: "*/*"})

	t.Run("three failures require a captcha", func(t *testing.T) {
		verifier := &fakeVerifier{accept: "test-captcha-token"}
		g := NewBruteForceGuard(guardstore.NewFingerprintStore(), verifier, BruteForcePolicy{}, testLogger())

		for i := 1; i <= 2; i++ {
			gated, err := g.RecordFailure(ctx, fp)
			require.NoError(t, err)
			assert.False(t, gated, "failure %d", i)
		}
		require.NoError(t, g.Challenge(ctx, fp, "", "10.0.0.9"))

		gated, err := g.RecordFailure(ctx, fp)
		require.NoError(t, err)
		assert.True(t, gated)

		err = g.Challenge(ctx, fp, "", "10.0.0.9")
		assert.ErrorIs(t, err, domain.ErrCaptchaRequired)
		err = g.Challenge(ctx, fp, "wrong", "10.0.0.9")
		assert.ErrorIs(t, err, domain.ErrCaptchaRequired)
		assert.NoError(t, g.Challenge(ctx, fp, "test-captcha-token", "10.0.0.9"))

		require.NoError(t, g.RecordSuccess(ctx, fp))
		assert.NoError(t, g.Challenge(ctx, fp, "", "10.0.0.9"))
	})

	t.Run("verifier failure fails closed", func(t *testing.T) {
		store := guardstore.NewFingerprintStore()
		require.NoError(t, store.RequireCaptcha(ctx, fp, time.Hour))
		g := NewBruteForceGuard(store, &fakeVerifier{err: domain.ErrCaptchaUnavailable}, BruteForcePolicy{}, testLogger())
		err := g.Challenge(ctx, fp, "anything", "10.0.0.9")
		assert.ErrorIs(t, err, domain.ErrCaptchaRequired)
		assert.ErrorIs(t, err, domain.ErrCaptchaUnavailable)
	})

	t.Run("rapid fire", func(t *testing.T) {
		clock := newFakeClock()
		g := NewBruteForceGuard(guardstore.NewFingerprintStore(guardstore.WithClock(clock.Now)), &fakeVerifier{}, BruteForcePolicy{}, testLogger())
		require.NoError(t, g.CheckRapidFire(ctx, "10.0.0.9", "ABC-123"))
		clock.Advance(200 * time.Millisecond)
		assert.ErrorIs(t, g.CheckRapidFire(ctx, "10.0.0.9", "ABC-123"), domain.ErrRapidFire)
		assert.NoError(t, g.CheckRapidFire(ctx, "10.0.0.10", "ABC-123"))
		clock.Advance(2 * time.Second)
		assert.NoError(t, g.CheckRapidFire(ctx, "10.0.0.9", "ABC-123"))
	})

	t.Run("fingerprint depends on headers", func(t *testing.T) {
		a := Fingerprint(ClientSignals{IP: "1.1.1.1", UserAgent: "a"})
		b := Fingerprint(ClientSignals{IP: "1.1.1.1", UserAgent: "b"})
		assert.NotEqual(t, a, b)
		assert.Len(t, a, 64)
	})
}

type flagRecorder struct{ codes []string }

func (f *flagRecorder) FlagSuspicious(ctx context.Context, code string) error {
	f.codes = append(f.codes, code)
	return nil
}

func TestCodeShareDetector(t *testing.T) {
	ctx := context.Background()
	alerts := memory.NewSecurityAlertRepo()
	flags := &flagRecorder{}
	d := NewCodeShareDetector(guardstore.NewCodeShareStore(), alerts, flags, CodeSharePolicy{IPThreshold: 3}, testLogger())

	for i := 1; i <= 3; i++ {
		v, err := d.Observe(ctx, "ABC-123", fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
		assert.False(t, v.Suspicious)
	}
	v, err := d.Observe(ctx, "ABC-123", "10.0.0.4")
	require.NoError(t, err)
	assert.True(t, v.Suspicious)
	assert.True(t, v.AlertRaised)

	v, err = d.Observe(ctx, "ABC-123", "10.0.0.5")
	require.NoError(t, err)
	assert.True(t, v.Suspicious)
	assert.False(t, v.AlertRaised)

	list, err := d.ListAlerts(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.AlertTypeCodeSharing, list[0].Type)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}, list[0].Metadata["ips"])
	assert.Equal(t, []string{"ABC-123"}, flags.codes)

	require.NoError(t, d.ResolveAlert(ctx, list[0].ID))
	open := false
	list, _ = d.ListAlerts(ctx, &open, 10)
	assert.Empty(t, list)
}

func TestAuditUseCase(t *testing.T) {
	ctx := context.Background()

	t.Run("record redacts nested secrets", func(t *testing.T) {
		repo := memory.NewAuditLogRepo()
		a := NewAuditUseCase(repo, &syncSubmitter{}, testLogger())
		a.Record(&model.AuditLogEntry{
			Action: "activation.validate",
			RequestBody: map[string]any{
				"code":         "ABC-123",
				"captchaToken": "tok",
				"profile": map[string]any{
					"password": "hunter2",
					"items":    []any{map[string]any{"apiKey": "k"}},
				},
			},
			ResponseStatus: 200,
		})
		got, total, err := a.Query(ctx, model.AuditLogFilter{})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		e := got[0]
		assert.Len(t, e.ID, 26, "ulid")
		assert.Equal(t, "ABC-123", e.RequestBody["code"])
		assert.Equal(t, redactedValue, e.RequestBody["captchaToken"])
		profile := e.RequestBody["profile"].(map[string]any)
		assert.Equal(t, redactedValue, profile["password"])
		item := profile["items"].([]any)[0].(map[string]any)
		assert.Equal(t, redactedValue, item["apiKey"])
	})

	t.Run("full pool drops without failing the caller", func(t *testing.T) {
		repo := memory.NewAuditLogRepo()
		a := NewAuditUseCase(repo, &syncSubmitter{full: true}, testLogger())
		a.Record(&model.AuditLogEntry{Action: "x", ResponseStatus: 200})
		_, total, _ := a.Query(ctx, model.AuditLogFilter{})
		assert.Zero(t, total)
	})

	t.Run("stats and purge", func(t *testing.T) {
		clock := newFakeClock()
		repo := memory.NewAuditLogRepo()
		a := NewAuditUseCase(repo, &syncSubmitter{}, testLogger())
		a.now = clock.Now

		a.Record(&model.AuditLogEntry{Action: "old", ResponseStatus: 200, CreatedAt: clock.Now().AddDate(0, 0, -100)})
		a.Record(&model.AuditLogEntry{Action: "new", ResponseStatus: 500, LatencyMs: 40})

		stats, err := a.Stats(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.Errors)

		n, err := a.Purge(ctx, 90)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
