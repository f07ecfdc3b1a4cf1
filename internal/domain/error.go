package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid exec context")

	// Activation code validation outcomes
	ErrCodeNotFound    = errors.New("activation code not found")
	ErrCodeAlreadyUsed = errors.New("activation code already used")
	ErrCodeExpired     = errors.New("activation code expired")

	// Resource errors, terminal for the operation
	ErrGenerationExhausted       = errors.New("activation code generation exhausted")
	ErrRegenerationLimitExceeded = errors.New("activation code regeneration limit exceeded")

	// Abuse-layer errors, recoverable by the caller
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrCaptchaRequired     = errors.New("captcha required")
	ErrRapidFire           = errors.New("repeated request too fast")
	ErrSuspiciousActivity  = errors.New("suspicious activity")
	ErrInvalidVerification = errors.New("invalid or expired verification code")

	// Infrastructure
	ErrCaptchaUnavailable   = errors.New("captcha provider unavailable")
	ErrTransportUnavailable = errors.New("email transport unavailable")
	ErrTemplateNotFound     = errors.New("email template not found")
)

// Kind groups errors by how a caller is expected to react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation errors are expected and user-facing; never retried.
	KindValidation
	// KindAbuse errors clear up once the caller waits or solves a challenge.
	KindAbuse
	// KindResource errors need an administrator.
	KindResource
	// KindInfrastructure errors come from stores and external collaborators.
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAbuse:
		return "abuse"
	case KindResource:
		return "resource"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Unrecognised non-nil errors are infrastructure errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeAlreadyUsed),
		errors.Is(err, ErrCodeExpired), errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidVerification), errors.Is(err, ErrNotFound):
		return KindValidation
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrCaptchaRequired),
		errors.Is(err, ErrRapidFire), errors.Is(err, ErrSuspiciousActivity):
		return KindAbuse
	case errors.Is(err, ErrGenerationExhausted), errors.Is(err, ErrRegenerationLimitExceeded):
		return KindResource
	default:
		return KindInfrastructure
	}
}

// RateLimitError carries the guidance a rejected caller needs.
type RateLimitError struct {
	Limiter    string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s limiter: retry after %s", e.Limiter, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
