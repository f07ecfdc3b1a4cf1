// File: internal/usecase/codeshare_uc.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/metrics"
)

// SuspicionFlagger marks an activation code as suspicious.
type SuspicionFlagger interface {
	FlagSuspicious(ctx context.Context, code string) error
}

type CodeSharePolicy struct {
	// IPThreshold is the largest number of distinct IPs tolerated per code.
	IPThreshold int
	TrackerTTL  time.Duration
}

// CodeShareVerdict is advisory; it never rejects a request.
type CodeShareVerdict struct {
	Suspicious  bool
	DistinctIPs int
	// AlertRaised is true only for the observation that created the alert.
	AlertRaised bool
}

// CodeShareDetector flags activation codes attempted from too many networks.
type CodeShareDetector struct {
	store  repository.CodeShareStore
	alerts repository.SecurityAlertRepository
	codes  SuspicionFlagger
	policy CodeSharePolicy
	log    *zerolog.Logger
	now    func() time.Time
}

func NewCodeShareDetector(store repository.CodeShareStore, alerts repository.SecurityAlertRepository, codes SuspicionFlagger, policy CodeSharePolicy, logger *zerolog.Logger) *CodeShareDetector {
	if policy.IPThreshold <= 0 {
		policy.IPThreshold = 3
	}
	if policy.TrackerTTL <= 0 {
		policy.TrackerTTL = 24 * time.Hour
	}
	return &CodeShareDetector{
		store:  store,
		alerts: alerts,
		codes:  codes,
		policy: policy,
		log:    componentLogger(logger, "codeshare"),
		now:    time.Now,
	}
}

// Observe records ip against code. Once the distinct-IP set exceeds the
// threshold, the first observer raises a code_sharing alert.
func (d *CodeShareDetector) Observe(ctx context.Context, code, ip string) (CodeShareVerdict, error) {
	if code == "" || ip == "" {
		return CodeShareVerdict{}, nil
	}
	ips, err := d.store.AddIP(ctx, code, ip, d.policy.TrackerTTL)
	if err != nil {
		return CodeShareVerdict{}, err
	}
	v := CodeShareVerdict{DistinctIPs: len(ips)}
	if len(ips) <= d.policy.IPThreshold {
		return v, nil
	}
	v.Suspicious = true

	first, err := d.store.MarkAlerted(ctx, code, d.policy.TrackerTTL)
	if err != nil || !first {
		return v, err
	}

	now := d.now().UTC()
	sorted := append([]string(nil), ips...)
	sort.Strings(sorted)
	alert := &model.SecurityAlert{
		ID:      uuid.NewString(),
		Type:    model.AlertTypeCodeSharing,
		Message: fmt.Sprintf("Activation code %s attempted from %d distinct IP addresses", code, len(sorted)),
		Metadata: map[string]any{
			"code":        code,
			"ips":         sorted,
			"distinctIps": len(sorted),
			"detectedAt":  now.Format(time.RFC3339),
		},
		CreatedAt: now,
	}
	if err := d.alerts.Save(ctx, repository.NoTX, alert); err != nil {
		return v, fmt.Errorf("save code sharing alert: %w", err)
	}
	v.AlertRaised = true
	metrics.IncCodeSharingAlert()
	d.log.Warn().Int("distinct_ips", len(sorted)).Str("alert_id", alert.ID).Msg("code sharing detected")

	if err := d.codes.FlagSuspicious(ctx, code); err != nil {
		d.log.Warn().Err(err).Msg("could not flag code as suspicious")
	}
	return v, nil
}

// ListAlerts returns alerts newest first; resolved == nil lists both states.
func (d *CodeShareDetector) ListAlerts(ctx context.Context, resolved *bool, limit int) ([]*model.SecurityAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return d.alerts.List(ctx, repository.NoTX, resolved, limit)
}

func (d *CodeShareDetector) ResolveAlert(ctx context.Context, id string) error {
	return d.alerts.Resolve(ctx, repository.NoTX, id, d.now().UTC())
}
