// File: internal/usecase/activation_uc.go
package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/logging"
	"fleet-maintenance/internal/infra/metrics"
)

// ActivationPolicy holds the tunable limits of the activation lifecycle.
type ActivationPolicy struct {
	GenerationAttempts int
	DefaultExpiryDays  int
	ExtendedExpiryDays int
	RegenerationLimit  int
	ReminderLookahead  time.Duration
	VerificationTTL    time.Duration
	// VerificationAttempts is how many wrong verification codes an email may
	// submit before the stored code is discarded.
	VerificationAttempts int
	NotificationBatch    int
	ActivationURLPrefix  string
}

func DefaultActivationPolicy() ActivationPolicy {
	return ActivationPolicy{
		GenerationAttempts:   10,
		DefaultExpiryDays:    30,
		ExtendedExpiryDays:   60,
		RegenerationLimit:    3,
		ReminderLookahead:    48 * time.Hour,
		VerificationTTL:      15 * time.Minute,
		VerificationAttempts: 5,
		NotificationBatch:    100,
	}
}

// EmailEnqueuer is the slice of the email queue the registry needs.
type EmailEnqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*model.EmailQueueItem, error)
}

type ValidationReason string

const (
	ReasonNotFound    ValidationReason = "not_found"
	ReasonAlreadyUsed ValidationReason = "already_used"
	ReasonExpired     ValidationReason = "expired"
)

// Validation is the outcome of checking a code. Invalid codes carry a Reason.
type Validation struct {
	Valid     bool
	Code      string
	CompanyID string
	Reason    ValidationReason
}

// Err maps an invalid outcome onto its sentinel error.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	switch v.Reason {
	case ReasonAlreadyUsed:
		return domain.ErrCodeAlreadyUsed
	case ReasonExpired:
		return domain.ErrCodeExpired
	default:
		return domain.ErrCodeNotFound
	}
}

// ValidationMessage is the user-facing text for a validation error.
func ValidationMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "Activation code already used"
	case errors.Is(err, domain.ErrCodeExpired):
		return "Activation code expired"
	default:
		return "Invalid activation code"
	}
}

// ActivationUseCase is the activation code registry.
type ActivationUseCase struct {
	codes     repository.ActivationCodeRepository
	companies repository.CompanyRepository
	tx        repository.TransactionManager
	mailer    EmailEnqueuer
	verifs    repository.VerificationStore
	policy    ActivationPolicy
	log       *zerolog.Logger
	now       func() time.Time
	newCode   func() (string, error)
	dev       bool
}

func NewActivationUseCase(
	codes repository.ActivationCodeRepository,
	companies repository.CompanyRepository,
	tx repository.TransactionManager,
	mailer EmailEnqueuer,
	verifs repository.VerificationStore,
	policy ActivationPolicy,
	logger *zerolog.Logger,
	dev bool,
) *ActivationUseCase {
	def := DefaultActivationPolicy()
	if policy.GenerationAttempts <= 0 {
		policy.GenerationAttempts = def.GenerationAttempts
	}
	if policy.DefaultExpiryDays <= 0 {
		policy.DefaultExpiryDays = def.DefaultExpiryDays
	}
	if policy.ExtendedExpiryDays <= 0 {
		policy.ExtendedExpiryDays = def.ExtendedExpiryDays
	}
	if policy.RegenerationLimit <= 0 {
		policy.RegenerationLimit = def.RegenerationLimit
	}
	if policy.ReminderLookahead <= 0 {
		policy.ReminderLookahead = def.ReminderLookahead
	}
	if policy.VerificationTTL <= 0 {
		policy.VerificationTTL = def.VerificationTTL
	}
	if policy.VerificationAttempts <= 0 {
		policy.VerificationAttempts = def.VerificationAttempts
	}
	if policy.NotificationBatch <= 0 {
		policy.NotificationBatch = def.NotificationBatch
	}
	return &ActivationUseCase{
		codes:     codes,
		companies: companies,
		tx:        tx,
		mailer:    mailer,
		verifs:    verifs,
		policy:    policy,
		log:       componentLogger(logger, "activation"),
		now:       time.Now,
		newCode:   generateActivationCode,
		dev:       dev,
	}
}

// Generate creates a live code for companyID. When sendEmail is set the code
// is mailed to the company at high priority.
func (uc *ActivationUseCase) Generate(ctx context.Context, companyID string, expiryDays int, sendEmail bool) (*model.ActivationCode, error) {
	if expiryDays <= 0 {
		expiryDays = uc.policy.DefaultExpiryDays
	}
	var company *model.Company
	if sendEmail {
		c, err := uc.companies.FindByID(ctx, repository.NoTX, companyID)
		if err != nil {
			return nil, fmt.Errorf("find company: %w", err)
		}
		company = c
	}

	code, err := uc.generate(ctx, repository.NoTX, companyID, expiryDays)
	if err != nil {
		return nil, err
	}
	metrics.IncActivationEvent("generated")
	uc.log.Info().Str("company_id", companyID).Str("code", logging.Redact(code.Code, uc.dev)).Msg("activation code generated")

	if company != nil {
		uc.notify(ctx, company.Email, TemplateActivationCode, model.EmailPriorityHigh, uc.emailData(company, code, nil))
	}
	return code, nil
}

// generate draws codes until one is free, bounded by GenerationAttempts.
func (uc *ActivationUseCase) generate(ctx context.Context, tx repository.Tx, companyID string, expiryDays int) (*model.ActivationCode, error) {
	now := uc.now().UTC()
	expiresAt := now.AddDate(0, 0, expiryDays)
	for i := 0; i < uc.policy.GenerationAttempts; i++ {
		candidate, err := uc.newCode()
		if err != nil {
			return nil, fmt.Errorf("random code: %w", err)
		}
		exists, err := uc.codes.CodeExists(ctx, tx, candidate)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		ac, err := model.NewActivationCode(companyID, candidate, expiresAt, now)
		if err != nil {
			return nil, err
		}
		err = uc.codes.Save(ctx, tx, ac)
		if errors.Is(err, domain.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ac, nil
	}
	uc.log.Error().Str("company_id", companyID).Int("attempts", uc.policy.GenerationAttempts).Msg("activation code space exhausted")
	return nil, domain.ErrGenerationExhausted
}

// Validate looks the code up without side effects.
func (uc *ActivationUseCase) Validate(ctx context.Context, raw string) (Validation, error) {
	code := model.NormalizeCode(raw)
	res := Validation{Code: code, Reason: ReasonNotFound}
	if !model.IsWellFormedCode(code) {
		metrics.IncValidation(string(res.Reason))
		return res, nil
	}
	ac, err := uc.codes.FindByCode(ctx, repository.NoTX, code)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncValidation(string(res.Reason))
		return res, nil
	}
	if err != nil {
		return Validation{}, err
	}

	switch ac.State(uc.now()) {
	case model.CodeStateActivated:
		res.Reason = ReasonAlreadyUsed
	case model.CodeStateExpired, model.CodeStateSuperseded:
		res.Reason = ReasonExpired
	default:
		res = Validation{Valid: true, Code: code, CompanyID: ac.CompanyID}
		metrics.IncValidation("valid")
		return res, nil
	}
	metrics.IncValidation(string(res.Reason))
	return res, nil
}

// Activate marks the code used. Activating an already activated code is a
// no-op and never moves activated_at. Superseded and expired codes report
// domain.ErrCodeExpired and are left unchanged.
func (uc *ActivationUseCase) Activate(ctx context.Context, raw string) error {
	ac, err := uc.find(ctx, raw)
	if err != nil {
		return err
	}
	now := uc.now().UTC()
	switch ac.State(now) {
	case model.CodeStateActivated:
		return nil
	case model.CodeStateSuperseded, model.CodeStateExpired:
		return domain.ErrCodeExpired
	}
	won, err := uc.codes.MarkActivated(ctx, repository.NoTX, ac.ID, now)
	if err != nil {
		return err
	}
	if !won {
		if err := uc.lostActivation(ctx, ac.Code, now); !errors.Is(err, domain.ErrCodeAlreadyUsed) {
			return err
		}
		return nil
	}
	metrics.IncActivationEvent("activated")
	return nil
}

// lostActivation explains why a conditional activation of code did not apply.
func (uc *ActivationUseCase) lostActivation(ctx context.Context, code string, now time.Time) error {
	current, err := uc.codes.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		return err
	}
	if current.State(now) == model.CodeStateActivated {
		return domain.ErrCodeAlreadyUsed
	}
	return domain.ErrCodeExpired
}

// Use validates and activates a code on behalf of companyID. Codes of other
// companies are reported as not found.
func (uc *ActivationUseCase) Use(ctx context.Context, companyID, raw string) (*model.ActivationCode, error) {
	v, err := uc.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, v.Err()
	}
	if v.CompanyID != companyID {
		return nil, domain.ErrCodeNotFound
	}
	ac, err := uc.codes.FindByCode(ctx, repository.NoTX, v.Code)
	if err != nil {
		return nil, err
	}
	now := uc.now().UTC()
	won, err := uc.codes.MarkActivated(ctx, repository.NoTX, ac.ID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, uc.lostActivation(ctx, ac.Code, now)
	}
	ac.ActivatedAt = &now
	metrics.IncActivationEvent("activated")
	uc.log.Info().Str("company_id", companyID).Msg("activation code used")

	if company, err := uc.companies.FindByID(ctx, repository.NoTX, companyID); err == nil {
		uc.notify(ctx, company.Email, TemplateActivationConfirmed, model.EmailPriorityLow, uc.emailData(company, ac, nil))
	} else {
		uc.log.Warn().Err(err).Str("company_id", companyID).Msg("company lookup failed; confirmation not sent")
	}
	return ac, nil
}

// Regenerate supersedes the company's live codes with a new one. It fails
// with domain.ErrRegenerationLimitExceeded once the company has used up its
// regenerations.
func (uc *ActivationUseCase) Regenerate(ctx context.Context, companyID, reason string, extendTrial bool) (*model.ActivationCode, error) {
	company, err := uc.companies.FindByID(ctx, repository.NoTX, companyID)
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	days := uc.policy.DefaultExpiryDays
	if extendTrial {
		days = uc.policy.ExtendedExpiryDays
	}

	var fresh *model.ActivationCode
	var superseded int
	err = uc.tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.codes.LockCompany(ctx, tx, companyID); err != nil {
			return err
		}
		n, err := uc.codes.CountRegenerated(ctx, tx, companyID)
		if err != nil {
			return err
		}
		if n >= uc.policy.RegenerationLimit {
			return domain.ErrRegenerationLimitExceeded
		}
		fresh, err = uc.generate(ctx, tx, companyID, days)
		if err != nil {
			return err
		}
		superseded, err = uc.codes.SupersedeLive(ctx, tx, companyID, fresh.ID, uc.now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrRegenerationLimitExceeded) {
			uc.log.Warn().Str("company_id", companyID).Msg("regeneration limit reached")
		}
		return nil, err
	}
	metrics.IncActivationEvent("regenerated")
	uc.log.Info().Str("company_id", companyID).Int("superseded", superseded).
		Bool("extend_trial", extendTrial).Str("reason", reason).Msg("activation code regenerated")

	uc.notify(ctx, company.Email, TemplateCodeRegenerated, model.EmailPriorityHigh, uc.emailData(company, fresh, map[string]any{
		"reason":      reason,
		"extendTrial": extendTrial,
	}))
	return fresh, nil
}

// RequestRegeneration mails a verification code to email. Unknown addresses
// are accepted silently.
func (uc *ActivationUseCase) RequestRegeneration(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	company, err := uc.companies.FindByEmail(ctx, repository.NoTX, email)
	if errors.Is(err, domain.ErrNotFound) {
		uc.log.Debug().Str("email", logging.Redact(email, uc.dev)).Msg("regeneration requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	code, err := verificationCode()
	if err != nil {
		return err
	}
	if err := uc.verifs.Put(ctx, verificationKey(email), code, uc.policy.VerificationTTL); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	_, err = uc.mailer.Enqueue(ctx, EnqueueRequest{
		To:       company.Email,
		Template: TemplateRegenerationVerify,
		Priority: model.EmailPriorityHigh,
		Data: map[string]any{
			"companyName":      company.Name,
			"verificationCode": code,
			"expiresMinutes":   int(uc.policy.VerificationTTL / time.Minute),
		},
	})
	return err
}

// ConfirmRegeneration checks the mailed verification code and regenerates.
func (uc *ActivationUseCase) ConfirmRegeneration(ctx context.Context, email, reason, code string, extendTrial bool) (*model.ActivationCode, error) {
	email = normalizeEmail(email)
	stored, err := uc.verifs.Get(ctx, verificationKey(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidVerification
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
		uc.verificationMismatch(ctx, email)
		return nil, domain.ErrInvalidVerification
	}
	company, err := uc.companies.FindByEmail(ctx, repository.NoTX, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidVerification
	}
	if err != nil {
		return nil, err
	}
	fresh, err := uc.Regenerate(ctx, company.ID, reason, extendTrial)
	if err != nil {
		return nil, err
	}
	if err := uc.verifs.Delete(ctx, verificationKey(email)); err != nil {
		uc.log.Warn().Err(err).Msg("verification code not deleted")
	}
	return fresh, nil
}

// verificationMismatch discards the stored code once the email has used up
// its verification attempts.
func (uc *ActivationUseCase) verificationMismatch(ctx context.Context, email string) {
	key := verificationKey(email)
	n, err := uc.verifs.Fail(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			uc.log.Warn().Err(err).Msg("verification mismatch not counted")
		}
		return
	}
	if n < uc.policy.VerificationAttempts {
		return
	}
	if err := uc.verifs.Delete(ctx, key); err != nil {
		uc.log.Warn().Err(err).Msg("exhausted verification code not deleted")
		return
	}
	uc.log.Warn().Str("email", logging.Redact(email, uc.dev)).Int("attempts", n).Msg("verification attempts exhausted")
}

// Revoke expires a code immediately. Activated codes cannot be revoked.
func (uc *ActivationUseCase) Revoke(ctx context.Context, raw string) error {
	ac, err := uc.find(ctx, raw)
	if err != nil {
		return err
	}
	if ac.ActivatedAt != nil {
		return domain.ErrCodeAlreadyUsed
	}
	if err := uc.codes.Expire(ctx, repository.NoTX, ac.ID, uc.now().UTC().Add(-time.Second)); err != nil {
		return err
	}
	metrics.IncActivationEvent("revoked")
	return nil
}

func (uc *ActivationUseCase) Get(ctx context.Context, raw string) (*model.ActivationCode, error) {
	return uc.find(ctx, raw)
}

func (uc *ActivationUseCase) ListByCompany(ctx context.Context, companyID string) ([]*model.ActivationCode, error) {
	return uc.codes.ListByCompany(ctx, repository.NoTX, companyID)
}

// NoteAttempt counts a guarded attempt against an existing code.
func (uc *ActivationUseCase) NoteAttempt(ctx context.Context, raw string) error {
	code := model.NormalizeCode(raw)
	if !model.IsWellFormedCode(code) {
		return nil
	}
	err := uc.codes.IncrementAttempts(ctx, repository.NoTX, code, uc.now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (uc *ActivationUseCase) FlagSuspicious(ctx context.Context, raw string) error {
	code := model.NormalizeCode(raw)
	err := uc.codes.FlagSuspicious(ctx, repository.NoTX, code, uc.now().UTC())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// SendReminders enqueues one reminder per live code expiring within the
// lookahead. The flag is claimed before enqueueing and released on failure.
func (uc *ActivationUseCase) SendReminders(ctx context.Context) (int, error) {
	now := uc.now().UTC()
	due, err := uc.codes.ListReminderDue(ctx, repository.NoTX, now, now.Add(uc.policy.ReminderLookahead), uc.policy.NotificationBatch)
	if err != nil {
		return 0, err
	}
	return uc.notifyBatch(ctx, due, notice{
		template: TemplateActivationReminder,
		priority: model.EmailPriorityNormal,
		claim:    uc.codes.ClaimReminder,
		release:  uc.codes.ReleaseReminder,
		event:    "reminded",
	})
}

// SendExpiryNotifications enqueues one notice per unused code past its expiry.
func (uc *ActivationUseCase) SendExpiryNotifications(ctx context.Context) (int, error) {
	now := uc.now().UTC()
	due, err := uc.codes.ListExpiryNoticeDue(ctx, repository.NoTX, now, uc.policy.NotificationBatch)
	if err != nil {
		return 0, err
	}
	return uc.notifyBatch(ctx, due, notice{
		template: TemplateActivationExpired,
		priority: model.EmailPriorityNormal,
		claim:    uc.codes.ClaimExpiryNotice,
		release:  uc.codes.ReleaseExpiryNotice,
		event:    "expiry_notified",
	})
}

type notice struct {
	template string
	priority model.EmailPriority
	claim    func(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error)
	release  func(ctx context.Context, tx repository.Tx, id string) error
	event    string
}

func (uc *ActivationUseCase) notifyBatch(ctx context.Context, due []*model.ActivationCode, n notice) (int, error) {
	sent := 0
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, ac := range due {
		won, err := n.claim(ctx, repository.NoTX, ac.ID, uc.now().UTC())
		if err != nil {
			keep(err)
			continue
		}
		if !won {
			continue
		}
		company, err := uc.companies.FindByID(ctx, repository.NoTX, ac.CompanyID)
		if err == nil {
			_, err = uc.mailer.Enqueue(ctx, EnqueueRequest{
				To:       company.Email,
				Template: n.template,
				Priority: n.priority,
				Data:     uc.emailData(company, ac, nil),
			})
		}
		if err != nil {
			keep(err)
			if rerr := n.release(ctx, repository.NoTX, ac.ID); rerr != nil {
				uc.log.Error().Err(rerr).Str("code_id", ac.ID).Str("template", n.template).Msg("could not release notification claim")
			}
			continue
		}
		sent++
	}
	metrics.AddActivationEvents(n.event, sent)
	if sent > 0 || firstErr != nil {
		uc.log.Info().Str("template", n.template).Int("sent", sent).Int("due", len(due)).AnErr("first_error", firstErr).Msg("activation notifications enqueued")
	}
	return sent, firstErr
}

func (uc *ActivationUseCase) find(ctx context.Context, raw string) (*model.ActivationCode, error) {
	code := model.NormalizeCode(raw)
	if !model.IsWellFormedCode(code) {
		return nil, domain.ErrCodeNotFound
	}
	ac, err := uc.codes.FindByCode(ctx, repository.NoTX, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrCodeNotFound
	}
	return ac, err
}

func (uc *ActivationUseCase) notify(ctx context.Context, to, template string, prio model.EmailPriority, data map[string]any) {
	if _, err := uc.mailer.Enqueue(ctx, EnqueueRequest{To: to, Template: template, Priority: prio, Data: data}); err != nil {
		uc.log.Error().Err(err).Str("template", template).Msg("notification not enqueued")
	}
}

func (uc *ActivationUseCase) emailData(company *model.Company, ac *model.ActivationCode, extra map[string]any) map[string]any {
	data := map[string]any{
		"companyName":    company.Name,
		"activationCode": ac.Code,
		"expiresAt":      ac.ExpiresAt.Format("January 2, 2006"),
	}
	if uc.policy.ActivationURLPrefix != "" {
		data["activationUrl"] = uc.policy.ActivationURLPrefix + ac.Code
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// generateActivationCode draws six characters from model.CodeAlphabet and
// formats them as XXX-XXX. Bytes at or above the largest multiple of the
// alphabet size are rejected so every character is equally likely.
func generateActivationCode() (string, error) {
	const n = 6
	alphabet := model.CodeAlphabet
	limit := byte(256 - 256%len(alphabet))

	out := make([]byte, 0, n)
	buf := make([]byte, 16)
	for len(out) < n {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out[:3]) + "-" + string(out[3:]), nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func verificationKey(email string) string { return "regen:" + email }

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
