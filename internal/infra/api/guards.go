package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/infra/logging"
	"fleet-maintenance/internal/usecase"
)

const maxBodyBytes = 64 << 10

// requestState is shared by the guard layers of one request.
type requestState struct {
	raw        []byte
	body       map[string]any
	suspicious bool
}

type stateKey struct{}

func stateFrom(ctx context.Context) *requestState {
	if st, ok := ctx.Value(stateKey{}).(*requestState); ok {
		return st
	}
	return &requestState{body: map[string]any{}}
}

// withState reads the body once so every layer and the handler see the same bytes.
func withState(next Handler) Handler {
	return func(r *http.Request) Reply {
		st := &requestState{body: map[string]any{}}
		if r.Body != nil {
			raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			_ = r.Body.Close()
			if err != nil {
				return badRequest("Invalid request body")
			}
			st.raw = raw
			if len(bytes.TrimSpace(raw)) > 0 {
				_ = json.Unmarshal(raw, &st.body)
				if st.body == nil {
					st.body = map[string]any{}
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
		}
		return next(r.WithContext(context.WithValue(r.Context(), stateKey{}, st)))
	}
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}

// audited records every request passing through with its outcome.
func (s *Server) audited(action string) Layer {
	return func(next Handler) Handler {
		return func(r *http.Request) Reply {
			start := time.Now()
			rep := next(r)
			st := stateFrom(r.Context())
			status := rep.Status
			if status == 0 {
				status = http.StatusOK
			}
			entry := &model.AuditLogEntry{
				Action:         action,
				ResourceType:   rep.ResourceType,
				ResourceID:     rep.ResourceID,
				IPAddress:      clientIP(r),
				UserAgent:      r.UserAgent(),
				Method:         r.Method,
				Path:           r.URL.Path,
				RequestBody:    st.body,
				ResponseStatus: status,
				LatencyMs:      time.Since(start).Milliseconds(),
			}
			if c := claimsFrom(r.Context()); c != nil {
				entry.UserID = c.Subject
			}
			if rep.Err != nil {
				entry.ErrorMessage = rep.Err.Error()
			}
			if st.suspicious {
				entry.Metadata = map[string]any{"suspiciousActivity": true}
			}
			s.audit.Record(entry)
			return rep
		}
	}
}

type keyFunc func(r *http.Request) string

func byIP(r *http.Request) string { return clientIP(r) }

// byIPAnd keys the bucket on the client IP plus a body field.
func byIPAnd(field string) keyFunc {
	return func(r *http.Request) string {
		v := strings.ToLower(stringField(stateFrom(r.Context()).body, field))
		return usecase.ClientKey(clientIP(r), v)
	}
}

// limited spends one point of limiter per request. The innermost limiter's
// headers win.
func (s *Server) limited(limiter string, key keyFunc) Layer {
	return func(next Handler) Handler {
		return func(r *http.Request) Reply {
			dec, err := s.limiter.Consume(r.Context(), limiter, key(r))
			if err != nil {
				rep := errorReply(err)
				if dec.Limit > 0 {
					setRateHeaders(&rep, dec)
				}
				return rep
			}
			rep := next(r)
			setRateHeaders(&rep, dec)
			return rep
		}
	}
}

func setRateHeaders(rep *Reply, dec usecase.RateLimitDecision) {
	rep.setDefault("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	rep.setDefault("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		rep.setDefault("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
	}
}

func signals(r *http.Request) usecase.ClientSignals {
	return usecase.ClientSignals{
		IP:             clientIP(r),
		UserAgent:      r.UserAgent(),
		Accept:         r.Header.Get("Accept"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
	}
}

func captchaToken(r *http.Request, body map[string]any) string {
	if t := stringField(body, "captchaToken"); t != "" {
		return t
	}
	return strings.TrimSpace(r.Header.Get("X-Captcha-Token"))
}

// bruteForced rejects rapid repetition, enforces the CAPTCHA gate and feeds
// the outcome back into the failure window.
func (s *Server) bruteForced(next Handler) Handler {
	return func(r *http.Request) Reply {
		ctx := r.Context()
		st := stateFrom(ctx)
		ip := clientIP(r)
		code := model.NormalizeCode(stringField(st.body, "code"))
		if err := s.guard.CheckRapidFire(ctx, ip, code); err != nil {
			return errorReply(err)
		}
		fp := usecase.Fingerprint(signals(r))
		if err := s.guard.Challenge(ctx, fp, captchaToken(r, st.body), ip); err != nil {
			return errorReply(err)
		}

		rep := next(r)
		l := logging.With(ctx, s.log)
		switch {
		case rep.Failed:
			if _, err := s.guard.RecordFailure(ctx, fp); err != nil {
				l.Error().Err(err).Msg("failure not recorded")
			}
		case rep.Status < http.StatusBadRequest:
			if err := s.guard.RecordSuccess(ctx, fp); err != nil {
				l.Error().Err(err).Msg("failure history not cleared")
			}
		}
		return rep
	}
}

// codeShared observes the code against the client IP. It never rejects.
func (s *Server) codeShared(next Handler) Handler {
	return func(r *http.Request) Reply {
		ctx := r.Context()
		st := stateFrom(ctx)
		code := model.NormalizeCode(stringField(st.body, "code"))
		if !model.IsWellFormedCode(code) {
			return next(r)
		}
		l := logging.With(ctx, s.log)
		if err := s.activation.NoteAttempt(ctx, code); err != nil {
			l.Error().Err(err).Msg("attempt not counted")
		}
		verdict, err := s.share.Observe(ctx, code, clientIP(r))
		if err != nil {
			l.Error().Err(err).Msg("code sharing check failed")
		} else if verdict.Suspicious {
			st.suspicious = true
			st.body["suspiciousActivity"] = true
		}
		return next(r)
	}
}
