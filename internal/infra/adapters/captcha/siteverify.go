package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/ports/adapter"
)

var _ adapter.CaptchaVerifier = (*SiteVerifier)(nil)

const (
	RecaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	HCaptchaVerifyURL  = "https://hcaptcha.com/siteverify"
)

// SiteVerifier talks to any provider implementing the siteverify form protocol
// (reCAPTCHA, hCaptcha, Turnstile).
type SiteVerifier struct {
	client    *http.Client
	secret    string
	verifyURL string
	logger    *zerolog.Logger
}

func NewSiteVerifier(secret, verifyURL string, timeout time.Duration, logger *zerolog.Logger) *SiteVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := logger.With().Str("component", "captcha").Logger()
	return &SiteVerifier{
		client:    &http.Client{Timeout: timeout},
		secret:    secret,
		verifyURL: verifyURL,
		logger:    &l,
	}
}

func (v *SiteVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	form := url.Values{"secret": {v.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrCaptchaUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: siteverify http %d", domain.ErrCaptchaUnavailable, resp.StatusCode)
	}
	var out struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode: %v", domain.ErrCaptchaUnavailable, err)
	}
	if !out.Success {
		v.logger.Debug().Strs("error_codes", out.ErrorCodes).Msg("captcha rejected")
	}
	return out.Success, nil
}

var _ adapter.CaptchaVerifier = (*TestVerifier)(nil)

// TestVerifier accepts exactly one sentinel token. It never calls out.
type TestVerifier struct {
	token string
}

func NewTestVerifier(token string) *TestVerifier { return &TestVerifier{token: token} }

func (v *TestVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	return v.token != "" && token == v.token, nil
}

// NewVerifier picks the configured provider.
func NewVerifier(cfg config.CaptchaConfig, logger *zerolog.Logger) (adapter.CaptchaVerifier, error) {
	switch cfg.Provider {
	case "test":
		return NewTestVerifier(cfg.TestToken), nil
	case "recaptcha", "hcaptcha", "siteverify":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("captcha.secret is required for %s", cfg.Provider)
		}
		u := cfg.VerifyURL
		if u == "" {
			u = RecaptchaVerifyURL
			if cfg.Provider == "hcaptcha" {
				u = HCaptchaVerifyURL
			}
		}
		return NewSiteVerifier(cfg.Secret, u, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("captcha provider %q is not supported", cfg.Provider)
	}
}
