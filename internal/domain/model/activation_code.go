package model

import (
	"regexp"
	"strings"
	"time"

	"fleet-maintenance/internal/domain"

	"github.com/google/uuid"
)

// CodeAlphabet is the character set activation codes are drawn from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{3}-[A-Z0-9]{3}$`)

// CodeState is the lifecycle position of an activation code at a given instant.
type CodeState string

const (
	CodeStateLive       CodeState = "live"
	CodeStateActivated  CodeState = "activated"
	CodeStateExpired    CodeState = "expired"
	CodeStateSuperseded CodeState = "superseded"
)

// ActivationCode unlocks a company account. Codes are never deleted; revocation
// moves ExpiresAt into the past.
type ActivationCode struct {
	ID                      string
	CompanyID               string
	Code                    string
	ExpiresAt               time.Time
	ActivatedAt             *time.Time // Pointer to allow for NULL
	ReminderSentAt          *time.Time // Pointer to allow for NULL
	ExpiredNotificationSent bool
	Regenerated             bool
	AttemptCount            int
	LockedUntil             *time.Time
	SuspiciousActivity      bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewActivationCode builds a live code for companyID.
func NewActivationCode(companyID, code string, expiresAt, now time.Time) (*ActivationCode, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !IsWellFormedCode(code) {
		return nil, domain.ErrInvalidArgument
	}
	if !expiresAt.After(now) {
		return nil, domain.ErrInvalidArgument
	}
	return &ActivationCode{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Code:      code,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// State reports the code's lifecycle state at now. Activation wins over
// supersession, which wins over expiry.
func (c *ActivationCode) State(now time.Time) CodeState {
	switch {
	case c.ActivatedAt != nil:
		return CodeStateActivated
	case c.Regenerated:
		return CodeStateSuperseded
	case c.ExpiresAt.Before(now):
		return CodeStateExpired
	default:
		return CodeStateLive
	}
}

// IsWellFormedCode reports whether s matches the XXX-XXX display format.
func IsWellFormedCode(s string) bool {
	return codePattern.MatchString(s)
}

// NormalizeCode upper-cases user input and restores the hyphen when a user
// typed the six characters without it.
func NormalizeCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 6 && !strings.Contains(s, "-") {
		s = s[:3] + "-" + s[3:]
	}
	return s
}
