//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"fleet-maintenance/internal/domain"
)

// --- ActivationCode Model Tests ---

func TestNewActivationCode(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	t.Run("should create a live code", func(t *testing.T) {
		ac, err := NewActivationCode("co-1", "AB3-9XZ", now.Add(24*time.Hour), now)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if ac.ID == "" {
			t.Error("expected code ID to be non-empty")
		}
		if ac.State(now) != CodeStateLive {
			t.Errorf("expected state live, but got %s", ac.State(now))
		}
		if ac.AttemptCount != 0 || ac.SuspiciousActivity || ac.Regenerated {
			t.Error("expected a fresh code to carry no counters or flags")
		}
	})

	t.Run("should fail with invalid arguments", func(t *testing.T) {
		testCases := []struct {
			name      string
			companyID string
			code      string
			expiresAt time.Time
		}{
			{"empty company", "", "AB3-9XZ", now.Add(time.Hour)},
			{"lowercase code", "co-1", "ab3-9xz", now.Add(time.Hour)},
			{"missing hyphen", "co-1", "AB39XZ", now.Add(time.Hour)},
			{"expiry in the past", "co-1", "AB3-9XZ", now.Add(-time.Hour)},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				ac, err := NewActivationCode(tc.companyID, tc.code, tc.expiresAt, now)
				if ac != nil {
					t.Errorf("expected code to be nil on error, but it was not")
				}
				if !errors.Is(err, domain.ErrInvalidArgument) {
					t.Errorf("expected error to be ErrInvalidArgument, but got %v", err)
				}
			})
		}
	})
}

func TestActivationCodeState(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	activated := now.Add(-time.Hour)

	testCases := []struct {
		name string
		code ActivationCode
		want CodeState
	}{
		{"live", ActivationCode{ExpiresAt: now.Add(time.Hour)}, CodeStateLive},
		{"expired", ActivationCode{ExpiresAt: now.Add(-time.Minute)}, CodeStateExpired},
		{"superseded", ActivationCode{ExpiresAt: now.Add(time.Hour), Regenerated: true}, CodeStateSuperseded},
		{"activation wins over expiry", ActivationCode{ExpiresAt: now.Add(-time.Minute), ActivatedAt: &activated}, CodeStateActivated},
		{"activation wins over supersession", ActivationCode{ExpiresAt: now.Add(time.Hour), Regenerated: true, ActivatedAt: &activated}, CodeStateActivated},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.code.State(now); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	testCases := map[string]string{
		"ab3-9xz":   "AB3-9XZ",
		" ab39xz ":  "AB3-9XZ",
		"AB3-9XZ":   "AB3-9XZ",
		"toolong12": "TOOLONG12",
	}
	for in, want := range testCases {
		if got := NormalizeCode(in); got != want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", in, got, want)
		}
	}
	if IsWellFormedCode(NormalizeCode("toolong12")) {
		t.Error("expected over-long input to stay malformed")
	}
}

// --- Email Queue Model Tests ---

func TestEmailPriority(t *testing.T) {
	if !(EmailPriorityHigh.Rank() < EmailPriorityNormal.Rank() && EmailPriorityNormal.Rank() < EmailPriorityLow.Rank()) {
		t.Error("expected high < normal < low in drain order")
	}
	if ParseEmailPriority(" HIGH ") != EmailPriorityHigh {
		t.Error("expected priority parsing to be case-insensitive")
	}
	if ParseEmailPriority("urgent") != EmailPriorityNormal {
		t.Error("expected unknown priorities to default to normal")
	}
}

func TestEmailQueueItemDue(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	testCases := []struct {
		name string
		item EmailQueueItem
		want bool
	}{
		{"pending and scheduled", EmailQueueItem{Status: EmailStatusPending, ScheduledAt: now, MaxAttempts: 3}, true},
		{"scheduled in the future", EmailQueueItem{Status: EmailStatusPending, ScheduledAt: now.Add(time.Minute), MaxAttempts: 3}, false},
		{"attempts exhausted", EmailQueueItem{Status: EmailStatusPending, ScheduledAt: now, Attempts: 3, MaxAttempts: 3}, false},
		{"failed with attempts left", EmailQueueItem{Status: EmailStatusFailed, ScheduledAt: now, Attempts: 1, MaxAttempts: 3}, true},
		{"already sent", EmailQueueItem{Status: EmailStatusSent, ScheduledAt: now, MaxAttempts: 3}, false},
		{"being processed", EmailQueueItem{Status: EmailStatusProcessing, ScheduledAt: now, MaxAttempts: 3}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.item.Due(now); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if !EmailStatusSent.Terminal() || !EmailStatusFailed.Terminal() || EmailStatusPending.Terminal() {
		t.Error("expected only sent and failed to be terminal")
	}
}

// --- Audit Model Tests ---

func TestAuditLogFilterPaging(t *testing.T) {
	f := AuditLogFilter{}
	f.Normalize()
	if f.Page != 1 || f.Limit != 50 {
		t.Errorf("expected defaults page=1 limit=50, got page=%d limit=%d", f.Page, f.Limit)
	}
	if f.Offset() != 0 {
		t.Errorf("expected offset 0, got %d", f.Offset())
	}

	f = AuditLogFilter{Page: 3, Limit: 1000}
	f.Normalize()
	if f.Limit != 500 {
		t.Errorf("expected limit to be clamped to 500, got %d", f.Limit)
	}
	if f.Offset() != 1000 {
		t.Errorf("expected offset 1000, got %d", f.Offset())
	}
}

func TestAuditLogEntrySucceeded(t *testing.T) {
	for status, want := range map[int]bool{0: false, 200: true, 302: true, 400: false, 429: false, 500: false} {
		e := AuditLogEntry{ResponseStatus: status}
		if e.Succeeded() != want {
			t.Errorf("status %d: expected %v", status, want)
		}
	}
}

// --- Rate Limit Model Tests ---

func TestDefaultRateLimitPolicies(t *testing.T) {
	p := DefaultRateLimitPolicies()
	for _, name := range []string{LimiterValidation, LimiterUsage, LimiterHelpRequest, LimiterRegeneration, LimiterLogin, LimiterGeneral} {
		if p[name].Points <= 0 || p[name].Duration <= 0 {
			t.Errorf("limiter %s has no usable default policy", name)
		}
	}
	if got := p[LimiterRegeneration]; got.Points != 3 || got.Duration != 24*time.Hour {
		t.Errorf("unexpected regeneration policy %+v", got)
	}
}
