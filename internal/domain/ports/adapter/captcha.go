package adapter

import "context"

// CaptchaVerifier checks a client-supplied CAPTCHA token with a provider.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}
