package repository

import (
	"context"
	"time"

	"fleet-maintenance/internal/domain/model"
)

// RateLimitCounter is a snapshot of one (limiter, key) bucket after a consume.
type RateLimitCounter struct {
	Consumed int
	// ResetIn is the time until the window resets, or until the block lifts when Blocked.
	ResetIn time.Duration
	Blocked bool
}

// RateLimitStore keeps per-key counters. Consume must be atomic per key.
type RateLimitStore interface {
	Consume(ctx context.Context, key string, policy model.RateLimitPolicy) (RateLimitCounter, error)
	Reset(ctx context.Context, key string) error
}

// FingerprintStore holds brute-force signals per client fingerprint.
type FingerprintStore interface {
	// AddFailure records a failure and returns the count within the trailing window.
	AddFailure(ctx context.Context, fingerprint string, window time.Duration) (int, error)
	ClearFailures(ctx context.Context, fingerprint string) error
	RequireCaptcha(ctx context.Context, fingerprint string, ttl time.Duration) error
	CaptchaRequired(ctx context.Context, fingerprint string) (bool, error)
	ClearCaptcha(ctx context.Context, fingerprint string) error
	// SeenRecently marks key and reports whether it had already been marked within the last `within`.
	SeenRecently(ctx context.Context, key string, within time.Duration) (bool, error)
}

// CodeShareStore tracks distinct client IPs per activation code.
type CodeShareStore interface {
	// AddIP adds ip to the code's set and returns the full set.
	AddIP(ctx context.Context, code, ip string, ttl time.Duration) ([]string, error)
	// MarkAlerted returns true only for the first caller per code within ttl.
	MarkAlerted(ctx context.Context, code string, ttl time.Duration) (bool, error)
}

// VerificationStore holds short-lived verification codes keyed by recipient.
type VerificationStore interface {
	// Put stores code for ttl and resets the mismatch count.
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	// Get returns domain.ErrNotFound when nothing (or nothing unexpired) is stored.
	Get(ctx context.Context, key string) (string, error)
	// Fail counts one mismatch against the stored code and returns the total.
	// It returns domain.ErrNotFound when nothing is stored.
	Fail(ctx context.Context, key string) (int, error)
	Delete(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that need explicit eviction of stale entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}
