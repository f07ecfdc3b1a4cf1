// File: internal/usecase/bruteforce_uc.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/ports/adapter"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/metrics"
)

type BruteForcePolicy struct {
	FailureThreshold int
	Window           time.Duration
	CaptchaTTL       time.Duration
	RapidFireWindow  time.Duration
}

func DefaultBruteForcePolicy() BruteForcePolicy {
	return BruteForcePolicy{
		FailureThreshold: 3,
		Window:           time.Hour,
		CaptchaTTL:       time.Hour,
		RapidFireWindow:  time.Second,
	}
}

// ClientSignals are the request attributes a fingerprint is derived from.
type ClientSignals struct {
	IP             string
	UserAgent      string
	Accept         string
	AcceptLanguage string
	AcceptEncoding string
}

// Fingerprint hashes the client signals so raw identifiers are not kept.
func Fingerprint(s ClientSignals) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		s.IP, s.UserAgent, s.Accept, s.AcceptLanguage, s.AcceptEncoding,
	}, "|")))
	return hex.EncodeToString(h[:])
}

// BruteForceGuard escalates to a CAPTCHA challenge after repeated failures
// and rejects rapid repetition of the same code from one IP.
type BruteForceGuard struct {
	store    repository.FingerprintStore
	verifier adapter.CaptchaVerifier
	policy   BruteForcePolicy
	log      *zerolog.Logger
}

func NewBruteForceGuard(store repository.FingerprintStore, verifier adapter.CaptchaVerifier, policy BruteForcePolicy, logger *zerolog.Logger) *BruteForceGuard {
	def := DefaultBruteForcePolicy()
	if policy.FailureThreshold <= 0 {
		policy.FailureThreshold = def.FailureThreshold
	}
	if policy.Window <= 0 {
		policy.Window = def.Window
	}
	if policy.CaptchaTTL <= 0 {
		policy.CaptchaTTL = def.CaptchaTTL
	}
	if policy.RapidFireWindow <= 0 {
		policy.RapidFireWindow = def.RapidFireWindow
	}
	return &BruteForceGuard{store: store, verifier: verifier, policy: policy, log: componentLogger(logger, "bruteforce")}
}

// CheckRapidFire returns domain.ErrRapidFire when the same code arrived from
// ip within the rapid-fire window.
func (g *BruteForceGuard) CheckRapidFire(ctx context.Context, ip, code string) error {
	if code == "" {
		return nil
	}
	seen, err := g.store.SeenRecently(ctx, "rapid:"+ip+"|"+code, g.policy.RapidFireWindow)
	if err != nil {
		g.log.Error().Err(err).Msg("rapid-fire check failed; allowing request")
		return nil
	}
	if seen {
		metrics.IncRapidFire()
		return domain.ErrRapidFire
	}
	return nil
}

// Challenge enforces the CAPTCHA requirement for fingerprint. It returns
// domain.ErrCaptchaRequired when the flag is set and the token is missing or
// rejected. A verifier failure counts as a rejection.
func (g *BruteForceGuard) Challenge(ctx context.Context, fingerprint, token, remoteIP string) error {
	required, err := g.store.CaptchaRequired(ctx, fingerprint)
	if err != nil {
		g.log.Error().Err(err).Msg("captcha flag lookup failed; allowing request")
		return nil
	}
	if !required {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		metrics.IncCaptcha("missing")
		return domain.ErrCaptchaRequired
	}
	ok, err := g.verifier.Verify(ctx, token, remoteIP)
	if err != nil {
		metrics.IncCaptcha("provider_error")
		g.log.Warn().Err(err).Msg("captcha verification failed closed")
		return errors.Join(domain.ErrCaptchaRequired, err)
	}
	if !ok {
		metrics.IncCaptcha("failed")
		return domain.ErrCaptchaRequired
	}
	metrics.IncCaptcha("passed")
	return nil
}

// RecordFailure counts a failed validation and reports whether the
// fingerprint is now CAPTCHA-gated.
func (g *BruteForceGuard) RecordFailure(ctx context.Context, fingerprint string) (bool, error) {
	n, err := g.store.AddFailure(ctx, fingerprint, g.policy.Window)
	if err != nil {
		return false, err
	}
	if n < g.policy.FailureThreshold {
		return false, nil
	}
	if err := g.store.RequireCaptcha(ctx, fingerprint, g.policy.CaptchaTTL); err != nil {
		return false, err
	}
	if n == g.policy.FailureThreshold {
		metrics.IncCaptcha("escalated")
		g.log.Info().Int("failures", n).Msg("captcha required for fingerprint")
	}
	return true, nil
}

// RecordSuccess clears the failure history of fingerprint.
func (g *BruteForceGuard) RecordSuccess(ctx context.Context, fingerprint string) error {
	if err := g.store.ClearFailures(ctx, fingerprint); err != nil {
		return err
	}
	return g.store.ClearCaptcha(ctx, fingerprint)
}
