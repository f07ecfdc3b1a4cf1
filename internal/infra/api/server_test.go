//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/adapters/captcha"
	"fleet-maintenance/internal/infra/adapters/email"
	"fleet-maintenance/internal/infra/db/memory"
	"fleet-maintenance/internal/infra/guardstore"
	"fleet-maintenance/internal/infra/templates"
	"fleet-maintenance/internal/usecase"
)

const testCaptchaToken = "test-captcha-token"

type syncSubmitter struct{}

func (syncSubmitter) Submit(task func(ctx context.Context) error) error {
	return task(context.Background())
}

type fixture struct {
	handler http.Handler
	auth    *AuthManager
	codes   *memory.ActivationCodeRepo
	queue   *memory.EmailQueueRepo
	audits  *memory.AuditLogRepo
	alerts  *memory.SecurityAlertRepo
	uc      *usecase.ActivationUseCase
}

func newFixture(t *testing.T, policies map[string]model.RateLimitPolicy) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	if policies == nil {
		policies = model.DefaultRateLimitPolicies()
	}
	renderer, err := templates.NewDefaultRenderer()
	require.NoError(t, err)

	f := &fixture{
		auth:   NewAuthManager("test-secret", time.Hour),
		codes:  memory.NewActivationCodeRepo(),
		queue:  memory.NewEmailQueueRepo(),
		audits: memory.NewAuditLogRepo(),
		alerts: memory.NewSecurityAlertRepo(),
	}
	companies := memory.NewCompanyRepo(
		&model.Company{ID: "co-1", Name: "Acme Haulage", Email: "fleet@acme.example"},
		&model.Company{ID: "co-2", Name: "Other Freight", Email: "ops@other.example"},
	)
	emails := usecase.NewEmailQueueUseCase(f.queue, memory.NewDeliveryLogRepo(), renderer,
		email.NewLogTransport(&logger), usecase.EmailQueuePolicy{}, &logger)
	f.uc = usecase.NewActivationUseCase(f.codes, companies, memory.NewTxManager(), emails,
		guardstore.NewVerificationStore(), usecase.ActivationPolicy{}, &logger, true)

	srv := NewServer(config.ServerConfig{RequestTimeout: 5 * time.Second}, Deps{
		Activation: f.uc,
		Limiter:    usecase.NewRateLimiter(guardstore.NewRateLimitStore(), policies, &logger),
		Guard: usecase.NewBruteForceGuard(guardstore.NewFingerprintStore(),
			captcha.NewTestVerifier(testCaptchaToken), usecase.BruteForcePolicy{}, &logger),
		Share: usecase.NewCodeShareDetector(guardstore.NewCodeShareStore(), f.alerts, f.uc,
			usecase.CodeSharePolicy{}, &logger),
		Audit:  usecase.NewAuditUseCase(f.audits, syncSubmitter{}, &logger),
		Emails: emails,
		Auth:   f.auth,
	}, time.Hour, &logger)
	f.handler = srv.Routes()
	return f
}

type call struct {
	method string
	path   string
	body   any
	ip     string
	token  string
}

func (f *fixture) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fleet-test")
	if c.ip != "" {
		req.Header.Set("X-Real-IP", c.ip)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (f *fixture) mint(t *testing.T, role, companyID string) string {
	t.Helper()
	tok, err := f.auth.Mint(role, "user-"+role, companyID)
	require.NoError(t, err)
	return tok
}

func (f *fixture) generate(t *testing.T, companyID string) *model.ActivationCode {
	t.Helper()
	ac, err := f.uc.Generate(context.Background(), companyID, 30, false)
	require.NoError(t, err)
	return ac
}

func TestValidateEndpoint(t *testing.T) {
	t.Run("live code is valid", func(t *testing.T) {
		f := newFixture(t, nil)
		ac := f.generate(t, "co-1")

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: "10.0.0.1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "co-1", body["companyId"])
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("lowercase code without hyphen is accepted", func(t *testing.T) {
		f := newFixture(t, nil)
		ac := f.generate(t, "co-1")
		raw := strings.ToLower(strings.ReplaceAll(ac.Code, "-", ""))

		_, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": raw}, ip: "10.0.0.1"})
		assert.Equal(t, true, body["valid"])
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t, nil)
		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "ZZZ-999"}, ip: "10.0.0.1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "Invalid activation code", body["error"])
	})

	t.Run("used code", func(t *testing.T) {
		f := newFixture(t, nil)
		ac := f.generate(t, "co-1")
		require.NoError(t, f.uc.Activate(context.Background(), ac.Code))

		_, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: "10.0.0.1"})
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "Activation code already used", body["error"])
	})

	t.Run("revoked code reads as expired", func(t *testing.T) {
		f := newFixture(t, nil)
		ac := f.generate(t, "co-1")
		require.NoError(t, f.uc.Revoke(context.Background(), ac.Code))

		_, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: "10.0.0.1"})
		assert.Equal(t, "Activation code expired", body["error"])
	})

	t.Run("every request is audited", func(t *testing.T) {
		f := newFixture(t, nil)
		f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "ZZZ-999"}, ip: "10.0.0.7"})

		entries, total, err := f.audits.Query(context.Background(), repository.NoTX, model.AuditLogFilter{Limit: 10, Page: 1})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		e := entries[0]
		assert.Equal(t, "validate_activation_code", e.Action)
		assert.Equal(t, "10.0.0.7", e.IPAddress)
		assert.Equal(t, http.StatusOK, e.ResponseStatus)
		assert.Equal(t, "ZZZ-999", e.RequestBody["code"])
	})
}

func TestRateLimiting(t *testing.T) {
	policies := model.DefaultRateLimitPolicies()
	policies[model.LimiterValidation] = model.RateLimitPolicy{Points: 2, Duration: time.Minute, BlockDuration: 5 * time.Minute}
	f := newFixture(t, policies)

	for i, code := range []string{"AAA-001", "AAA-002"} {
		rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": code}, ip: "10.0.0.2"})
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "AAA-003"}, ip: "10.0.0.2"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "Too many requests", body["error"])

	rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "AAA-004"}, ip: "10.0.0.3"})
	assert.Equal(t, http.StatusOK, rec.Code, "other clients are unaffected")
}

func TestBruteForceGuard(t *testing.T) {
	t.Run("captcha after three failures", func(t *testing.T) {
		f := newFixture(t, nil)
		for _, code := range []string{"BAD-001", "BAD-002", "BAD-003"} {
			rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": code}, ip: "10.0.1.1"})
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "BAD-004"}, ip: "10.0.1.1"})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, true, body["captchaRequired"])

		rec, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "BAD-005", "captchaToken": "wrong"}, ip: "10.0.1.1"})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, true, body["captchaRequired"])

		ac := f.generate(t, "co-1")
		rec, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code, "captchaToken": testCaptchaToken}, ip: "10.0.1.1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["valid"])

		rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": "BAD-006"}, ip: "10.0.1.1"})
		assert.Equal(t, http.StatusOK, rec.Code, "success clears the captcha flag")
	})

	t.Run("rapid fire", func(t *testing.T) {
		f := newFixture(t, nil)
		ac := f.generate(t, "co-1")
		rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: "10.0.2.1"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: "10.0.2.1"})
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))

		rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: "10.0.2.2"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCodeSharingDetection(t *testing.T) {
	f := newFixture(t, nil)
	ac := f.generate(t, "co-1")

	for _, ip := range []string{"10.1.0.1", "10.1.0.2", "10.1.0.3", "10.1.0.4", "10.1.0.5"} {
		rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": ac.Code}, ip: ip})
		require.Equal(t, http.StatusOK, rec.Code, "sharing never blocks")
		assert.Equal(t, true, body["valid"])
	}

	alerts, err := f.alerts.List(context.Background(), repository.NoTX, nil, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertTypeCodeSharing, alerts[0].Type)

	stored, err := f.codes.FindByCode(context.Background(), repository.NoTX, ac.Code)
	require.NoError(t, err)
	assert.True(t, stored.SuspiciousActivity)
	assert.Equal(t, 5, stored.AttemptCount)

	entries, _, err := f.audits.Query(context.Background(), repository.NoTX, model.AuditLogFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	flagged := 0
	for _, e := range entries {
		if e.Metadata["suspiciousActivity"] == true {
			flagged++
		}
	}
	assert.Equal(t, 2, flagged)
}

func TestUseEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	ac := f.generate(t, "co-1")
	path := "/api/v1/activation/use"

	rec, _ := f.do(t, call{method: http.MethodPost, path: path, body: map[string]string{"code": ac.Code}, ip: "10.2.0.1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	other := f.mint(t, RoleCompany, "co-2")
	rec, body := f.do(t, call{method: http.MethodPost, path: path, body: map[string]string{"code": ac.Code}, ip: "10.2.0.2", token: other})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid activation code", body["error"])

	owner := f.mint(t, RoleCompany, "co-1")
	rec, body = f.do(t, call{method: http.MethodPost, path: path, body: map[string]string{"code": ac.Code}, ip: "10.2.0.3", token: owner})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["activatedAt"])
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))

	rec, body = f.do(t, call{method: http.MethodPost, path: path, body: map[string]string{"code": ac.Code}, ip: "10.2.0.4", token: owner})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Activation code already used", body["error"])
}

func TestRegenerationFlow(t *testing.T) {
	f := newFixture(t, nil)
	old := f.generate(t, "co-1")
	ctx := context.Background()

	rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/regenerate/request", body: map[string]string{"email": "nobody@nowhere.example"}, ip: "10.3.0.1"})
	require.Equal(t, http.StatusOK, rec.Code)
	generic := body["message"]

	rec, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/regenerate/request", body: map[string]string{"email": "fleet@acme.example"}, ip: "10.3.0.1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, generic, body["message"], "responses do not reveal registered emails")

	items, err := f.queue.ClaimDue(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	var verification string
	for _, it := range items {
		if it.TemplateName == usecase.TemplateRegenerationVerify {
			verification, _ = it.TemplateData["verificationCode"].(string)
		}
	}
	require.Len(t, verification, 6)

	rec, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/regenerate", body: map[string]any{
		"email": "fleet@acme.example", "reason": "lost", "verificationCode": "000000",
	}, ip: "10.3.0.2"})
	if verification != "000000" {
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, false, body["success"])
	}

	rec, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/regenerate", body: map[string]any{
		"email": "fleet@acme.example", "reason": "lost", "verificationCode": verification, "extendTrial": true,
	}, ip: "10.3.0.3"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	_, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/activation/validate", body: map[string]string{"code": old.Code}, ip: "10.3.0.4"})
	assert.Equal(t, "Activation code expired", body["error"])
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.mint(t, RoleAdmin, "")
	company := f.mint(t, RoleCompany, "co-1")

	rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/activation/generate", body: map[string]any{"companyId": "co-1"}, token: company})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/activation/generate", body: map[string]any{"companyId": "co-1", "expiryDays": 10}, token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	code, _ := body["code"].(string)
	assert.True(t, model.IsWellFormedCode(code))

	rec, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/activation/codes/" + code, token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(model.CodeStateLive), body["state"])

	rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/activation/revoke", body: map[string]any{"code": code}, token: admin})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/activation/codes?companyId=co-1", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, body["codes"])

	rec, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/audit-logs?action=admin_generate_code", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	logs, _ := body["logs"].([]any)
	require.Len(t, logs, 1)
	pagination, _ := body["pagination"].(map[string]any)
	assert.EqualValues(t, 1, pagination["total"])

	rec, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/audit-logs/stats?hours=1", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	rec, _ = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/audit-logs?from=yesterday", token: admin})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/email-queue/stats", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "pending")

	rec, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/email-queue/retry?olderThanMinutes=30", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["requeued"])

	rec, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/security-alerts?resolved=false", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["alerts"])
}

func TestResolveSecurityAlert(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.mint(t, RoleAdmin, "")
	alert := &model.SecurityAlert{ID: "alert-1", Type: model.AlertTypeCodeSharing, Message: "shared", CreatedAt: time.Now()}
	require.NoError(t, f.alerts.Save(context.Background(), repository.NoTX, alert))

	rec, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/security-alerts/alert-1/resolve", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/security-alerts?resolved=true", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	alerts, _ := body["alerts"].([]any)
	assert.Len(t, alerts, 1)

	rec, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/security-alerts/missing/resolve", token: admin})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthFailuresSpendLoginLimiter(t *testing.T) {
	policies := model.DefaultRateLimitPolicies()
	policies[model.LimiterLogin] = model.RateLimitPolicy{Points: 2, Duration: time.Minute, BlockDuration: time.Minute}
	f := newFixture(t, policies)

	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/email-queue/stats", token: "garbage", ip: "10.9.0.1"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, _ := f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/email-queue/stats", token: "garbage", ip: "10.9.0.1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec, body := f.do(t, call{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}
