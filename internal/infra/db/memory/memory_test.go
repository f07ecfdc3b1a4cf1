//go:build !integration

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

func TestActivationCodeRepo(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("save rejects duplicate code strings", func(t *testing.T) {
		r := NewActivationCodeRepo()
		a, err := model.NewActivationCode("co-1", "ABC-123", now.Add(time.Hour), now)
		require.NoError(t, err)
		require.NoError(t, r.Save(ctx, repository.NoTX, a))

		b, _ := model.NewActivationCode("co-2", "ABC-123", now.Add(time.Hour), now)
		assert.ErrorIs(t, r.Save(ctx, repository.NoTX, b), domain.ErrAlreadyExists)
	})

	t.Run("mark activated is conditional", func(t *testing.T) {
		r := NewActivationCodeRepo()
		a, _ := model.NewActivationCode("co-1", "ABC-124", now.Add(time.Hour), now)
		require.NoError(t, r.Save(ctx, repository.NoTX, a))

		won, err := r.MarkActivated(ctx, repository.NoTX, a.ID, now)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = r.MarkActivated(ctx, repository.NoTX, a.ID, now.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, won)

		got, _ := r.FindByCode(ctx, repository.NoTX, "ABC-124")
		assert.Equal(t, now, *got.ActivatedAt)
	})

	t.Run("supersede skips activated and excepted codes", func(t *testing.T) {
		r := NewActivationCodeRepo()
		live, _ := model.NewActivationCode("co-1", "AAA-111", now.Add(time.Hour), now)
		used, _ := model.NewActivationCode("co-1", "AAA-222", now.Add(time.Hour), now)
		fresh, _ := model.NewActivationCode("co-1", "AAA-333", now.Add(time.Hour), now)
		other, _ := model.NewActivationCode("co-2", "AAA-444", now.Add(time.Hour), now)
		for _, c := range []*model.ActivationCode{live, used, fresh, other} {
			require.NoError(t, r.Save(ctx, repository.NoTX, c))
		}
		_, _ = r.MarkActivated(ctx, repository.NoTX, used.ID, now)

		n, err := r.SupersedeLive(ctx, repository.NoTX, "co-1", fresh.ID, now)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		cnt, _ := r.CountRegenerated(ctx, repository.NoTX, "co-1")
		assert.Equal(t, 1, cnt)
	})

	t.Run("reminder claim is once only", func(t *testing.T) {
		r := NewActivationCodeRepo()
		soon, _ := model.NewActivationCode("co-1", "BBB-111", now.Add(24*time.Hour), now)
		later, _ := model.NewActivationCode("co-1", "BBB-222", now.Add(10*24*time.Hour), now)
		require.NoError(t, r.Save(ctx, repository.NoTX, soon))
		require.NoError(t, r.Save(ctx, repository.NoTX, later))

		due, err := r.ListReminderDue(ctx, repository.NoTX, now, now.Add(48*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, soon.ID, due[0].ID)

		ok, _ := r.ClaimReminder(ctx, repository.NoTX, soon.ID, now)
		assert.True(t, ok)
		ok, _ = r.ClaimReminder(ctx, repository.NoTX, soon.ID, now)
		assert.False(t, ok)

		require.NoError(t, r.ReleaseReminder(ctx, repository.NoTX, soon.ID))
		ok, _ = r.ClaimReminder(ctx, repository.NoTX, soon.ID, now)
		assert.True(t, ok)
	})
}

func TestEmailQueueRepoClaimOrdering(t *testing.T) {
	ctx := context.Background()
	r := NewEmailQueueRepo()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []model.EmailPriority{model.EmailPriorityLow, model.EmailPriorityHigh, model.EmailPriorityNormal} {
		require.NoError(t, r.Create(ctx, repository.NoTX, &model.EmailQueueItem{
			ID:          string(p),
			To:          "ops@fleet.example",
			Priority:    p,
			Status:      model.EmailStatusPending,
			MaxAttempts: 3,
			ScheduledAt: at,
			CreatedAt:   at.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, r.Create(ctx, repository.NoTX, &model.EmailQueueItem{
		ID: "future", Priority: model.EmailPriorityHigh, Status: model.EmailStatusPending,
		MaxAttempts: 3, ScheduledAt: at.Add(time.Hour),
	}))

	got, err := r.ClaimDue(ctx, at, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "high", got[0].ID)
	assert.Equal(t, "normal", got[1].ID)
	assert.Equal(t, "low", got[2].ID)
	for _, it := range got {
		assert.Equal(t, model.EmailStatusProcessing, it.Status)
		assert.Equal(t, 1, it.Attempts)
	}

	again, err := r.ClaimDue(ctx, at, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "processing items must not be claimed twice")
}

func TestEmailQueueRepoRetryFailedHonorsCutoff(t *testing.T) {
	ctx := context.Background()
	r := NewEmailQueueRepo()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"old", "recent"} {
		require.NoError(t, r.Create(ctx, repository.NoTX, &model.EmailQueueItem{
			ID: id, Status: model.EmailStatusPending, MaxAttempts: 3, ScheduledAt: now,
		}))
	}
	require.NoError(t, r.MarkFailed(ctx, repository.NoTX, "old", "boom", now.Add(-2*time.Hour)))
	require.NoError(t, r.MarkFailed(ctx, repository.NoTX, "recent", "boom", now.Add(-10*time.Minute)))

	n, err := r.RetryFailed(ctx, repository.NoTX, now.Add(-60*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, _ := r.FindByID(ctx, repository.NoTX, "old")
	assert.Equal(t, model.EmailStatusPending, old.Status)
	assert.Zero(t, old.Attempts)
	assert.Empty(t, old.ErrorMessage)

	recent, _ := r.FindByID(ctx, repository.NoTX, "recent")
	assert.Equal(t, model.EmailStatusFailed, recent.Status)
}

func TestAuditLogRepoQueryAndStats(t *testing.T) {
	ctx := context.Background()
	r := NewAuditLogRepo()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	entries := []*model.AuditLogEntry{
		{ID: "1", Action: "activation.validate", IPAddress: "10.0.0.1", ResponseStatus: 200, LatencyMs: 10, CreatedAt: base},
		{ID: "2", Action: "activation.validate", IPAddress: "10.0.0.1", ResponseStatus: 429, LatencyMs: 30, CreatedAt: base.Add(time.Minute)},
		{ID: "3", Action: "activation.use", IPAddress: "10.0.0.2", ResponseStatus: 200, LatencyMs: 20, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "4", Action: "activation.use", IPAddress: "10.0.0.2", ResponseStatus: 200, LatencyMs: 5, CreatedAt: base.Add(-48 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, r.Save(ctx, repository.NoTX, e))
	}

	page, total, err := r.Query(ctx, repository.NoTX, model.AuditLogFilter{Action: "activation.validate", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].ID, "newest first")

	stats, err := r.Stats(ctx, repository.NoTX, base.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Success)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, int64(30), stats.MaxLatencyMs)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, model.KeyCount{Key: "10.0.0.1", Count: 2}, stats.ByIP[0])

	n, err := r.DeleteBefore(ctx, repository.NoTX, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSecurityAlertRepoResolve(t *testing.T) {
	ctx := context.Background()
	r := NewSecurityAlertRepo()
	now := time.Now().UTC()
	require.NoError(t, r.Save(ctx, repository.NoTX, &model.SecurityAlert{ID: "a1", Type: model.AlertTypeCodeSharing, CreatedAt: now}))
	require.NoError(t, r.Save(ctx, repository.NoTX, &model.SecurityAlert{ID: "a2", Type: model.AlertTypeCodeSharing, CreatedAt: now.Add(time.Second)}))

	require.NoError(t, r.Resolve(ctx, repository.NoTX, "a1", now))
	assert.ErrorIs(t, r.Resolve(ctx, repository.NoTX, "missing", now), domain.ErrNotFound)

	open := false
	list, err := r.List(ctx, repository.NoTX, &open, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a2", list[0].ID)
}
