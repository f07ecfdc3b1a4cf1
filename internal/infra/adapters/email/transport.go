package email

import (
	"fmt"

	"github.com/rs/zerolog"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/ports/adapter"
)

// NewTransport picks the configured provider and wraps it in the send throttle.
func NewTransport(cfg config.EmailConfig, logger *zerolog.Logger) (adapter.EmailTransport, error) {
	var t adapter.EmailTransport
	switch cfg.Provider {
	case "sendgrid":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("email.api_key is required for sendgrid")
		}
		t = NewSendGridTransport(cfg.APIKey, "", cfg.FromName, cfg.FromAddress, logger)
	case "log", "":
		t = NewLogTransport(logger)
	default:
		return nil, fmt.Errorf("email provider %q is not supported", cfg.Provider)
	}
	return NewThrottledTransport(t, cfg.RatePerSecond, cfg.Burst), nil
}
