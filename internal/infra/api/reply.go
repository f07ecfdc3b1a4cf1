package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/usecase"
)

// Reply is what a guarded handler produces. Layers inspect it on the way out
// before it is written.
type Reply struct {
	Status int
	Body   any
	// Err is recorded in the audit trail; it is never written to the client.
	Err error
	// Failed marks the request as a failed validation for the brute-force guard.
	Failed bool

	ResourceType string
	ResourceID   string

	Headers http.Header
}

type Handler func(r *http.Request) Reply

type Layer func(Handler) Handler

func chain(h Handler, layers ...Layer) Handler {
	for i := len(layers) - 1; i >= 0; i-- {
		h = layers[i](h)
	}
	return h
}

func serve(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReply(w, r, h(r))
	}
}

// setDefault sets key only if an inner layer has not already set it.
func (rp *Reply) setDefault(key, value string) {
	if rp.Headers == nil {
		rp.Headers = http.Header{}
	}
	if rp.Headers.Get(key) == "" {
		rp.Headers.Set(key, value)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type rateLimitedBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

type captchaBody struct {
	Error           string `json:"error"`
	CaptchaRequired bool   `json:"captchaRequired"`
}

func ok(body any) Reply {
	return Reply{Status: http.StatusOK, Body: body}
}

func badRequest(msg string) Reply {
	return Reply{Status: http.StatusBadRequest, Body: errorBody{Error: msg}, Err: errors.New(msg)}
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// errorReply maps an error onto its wire form.
func errorReply(err error) Reply {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		secs := retrySeconds(rl.RetryAfter)
		rep := Reply{Status: http.StatusTooManyRequests, Body: rateLimitedBody{Error: "Too many requests", RetryAfter: secs}, Err: err}
		rep.setDefault("Retry-After", strconv.Itoa(secs))
		return rep
	case errors.Is(err, domain.ErrRapidFire):
		rep := Reply{Status: http.StatusTooManyRequests, Body: rateLimitedBody{Error: "Too many requests", RetryAfter: 1}, Err: err}
		rep.setDefault("Retry-After", "1")
		return rep
	case errors.Is(err, domain.ErrCaptchaRequired):
		return Reply{Status: http.StatusForbidden, Body: captchaBody{Error: "CAPTCHA verification required", CaptchaRequired: true}, Err: err}
	case errors.Is(err, domain.ErrRegenerationLimitExceeded):
		return Reply{Status: http.StatusForbidden, Body: successBody{Success: false, Error: "Regeneration limit exceeded. Please contact support."}, Err: err}
	case errors.Is(err, domain.ErrInvalidVerification):
		return Reply{Status: http.StatusForbidden, Body: successBody{Success: false, Error: "Invalid or expired verification code"}, Err: err}
	case errors.Is(err, domain.ErrCodeNotFound), errors.Is(err, domain.ErrCodeAlreadyUsed), errors.Is(err, domain.ErrCodeExpired):
		return Reply{Status: http.StatusBadRequest, Body: successBody{Success: false, Error: usecase.ValidationMessage(err)}, Err: err, Failed: true}
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		if errors.Is(err, domain.ErrNotFound) {
			return Reply{Status: http.StatusNotFound, Body: errorBody{Error: "Not found"}, Err: err}
		}
		return Reply{Status: http.StatusBadRequest, Body: errorBody{Error: "Invalid request"}, Err: err}
	case domain.KindResource:
		return Reply{Status: http.StatusServiceUnavailable, Body: errorBody{Error: "Service temporarily unavailable"}, Err: err}
	default:
		return Reply{Status: http.StatusInternalServerError, Body: errorBody{Error: "Internal server error"}, Err: err}
	}
}

func writeReply(w http.ResponseWriter, r *http.Request, rep Reply) {
	for k, vs := range rep.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := rep.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, r, status, rep.Body)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	if body == nil {
		body = struct{}{}
	}
	render.JSON(w, r, body)
}
