package email

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/ports/adapter"
)

var _ adapter.EmailTransport = (*SendGridTransport)(nil)

const sendGridEndpoint = "/v3/mail/send"

type SendGridTransport struct {
	req    rest.Request
	from   *mail.Email
	logger *zerolog.Logger
}

// NewSendGridTransport builds a transport for the public SendGrid API. host
// overrides the API host; empty uses the default.
func NewSendGridTransport(apiKey, host, fromName, fromAddress string, logger *zerolog.Logger) *SendGridTransport {
	req := sendgrid.GetRequest(apiKey, sendGridEndpoint, host)
	req.Method = http.MethodPost
	l := logger.With().Str("component", "sendgrid").Logger()
	return &SendGridTransport{
		req:    req,
		from:   mail.NewEmail(fromName, fromAddress),
		logger: &l,
	}
}

func (t *SendGridTransport) Send(ctx context.Context, msg adapter.EmailMessage) (string, error) {
	m := mail.NewSingleEmail(t.from, msg.Subject, mail.NewEmail("", msg.To), msg.Text, msg.HTML)
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	// The client keeps the body on the request, so each send gets its own copy.
	client := &sendgrid.Client{Request: t.req}
	resp, err := client.SendWithContext(ctx, m)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: sendgrid status %d", domain.ErrTransportUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	id := headerValue(resp.Headers, "X-Message-Id")
	t.logger.Debug().Str("message_id", id).Str("category", msg.Category).Msg("email accepted")
	return id, nil
}

func headerValue(h map[string][]string, key string) string {
	if v := http.Header(h).Get(key); v != "" {
		return v
	}
	// rest.Response keeps the header map as received.
	for k, vs := range h {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
