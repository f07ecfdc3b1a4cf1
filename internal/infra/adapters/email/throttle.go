package email

import (
	"context"

	"golang.org/x/time/rate"

	"fleet-maintenance/internal/domain/ports/adapter"
)

var _ adapter.EmailTransport = (*throttledTransport)(nil)

type throttledTransport struct {
	inner   adapter.EmailTransport
	limiter *rate.Limiter
}

// NewThrottledTransport caps sends to perSecond with the given burst.
// A non-positive rate returns inner unchanged.
func NewThrottledTransport(inner adapter.EmailTransport, perSecond float64, burst int) adapter.EmailTransport {
	if perSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &throttledTransport{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *throttledTransport) Send(ctx context.Context, msg adapter.EmailMessage) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.inner.Send(ctx, msg)
}
