package email

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleet-maintenance/internal/domain/ports/adapter"
)

var _ adapter.EmailTransport = (*LogTransport)(nil)

// LogTransport writes messages to the log instead of delivering them.
type LogTransport struct {
	logger *zerolog.Logger
}

func NewLogTransport(logger *zerolog.Logger) *LogTransport {
	l := logger.With().Str("component", "email-log").Logger()
	return &LogTransport{logger: &l}
}

func (t *LogTransport) Send(ctx context.Context, msg adapter.EmailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "log-" + uuid.NewString()
	t.logger.Info().
		Str("message_id", id).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("category", msg.Category).
		Msg("email delivered to log")
	t.logger.Debug().Str("message_id", id).Str("text", msg.Text).Msg("email body")
	return id, nil
}
