package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fleet-maintenance/internal/domain/model"
)

type codeView struct {
	ID                 string     `json:"id"`
	CompanyID          string     `json:"companyId"`
	Code               string     `json:"code"`
	State              string     `json:"state"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	ActivatedAt        *time.Time `json:"activatedAt,omitempty"`
	ReminderSentAt     *time.Time `json:"reminderSentAt,omitempty"`
	AttemptCount       int        `json:"attemptCount"`
	SuspiciousActivity bool       `json:"suspiciousActivity"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func toCodeView(ac *model.ActivationCode, now time.Time) codeView {
	return codeView{
		ID:                 ac.ID,
		CompanyID:          ac.CompanyID,
		Code:               ac.Code,
		State:              string(ac.State(now)),
		ExpiresAt:          ac.ExpiresAt,
		ActivatedAt:        ac.ActivatedAt,
		ReminderSentAt:     ac.ReminderSentAt,
		AttemptCount:       ac.AttemptCount,
		SuspiciousActivity: ac.SuspiciousActivity,
		CreatedAt:          ac.CreatedAt,
	}
}

type generateRequest struct {
	CompanyID  string `json:"companyId" validate:"required,max=64"`
	ExpiryDays int    `json:"expiryDays" validate:"gte=0,lte=365"`
	SendEmail  bool   `json:"sendEmail"`
}

type generateResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleGenerate(r *http.Request) Reply {
	var req generateRequest
	if err := decode(r, &req); err != nil {
		return badRequest("companyId is required")
	}
	ac, err := s.activation.Generate(r.Context(), req.CompanyID, req.ExpiryDays, req.SendEmail)
	if err != nil {
		rep := errorReply(err)
		rep.ResourceType, rep.ResourceID = "company", req.CompanyID
		return rep
	}
	rep := ok(generateResponse{Code: ac.Code, ExpiresAt: ac.ExpiresAt})
	rep.ResourceType, rep.ResourceID = resourceActivationCode, ac.Code
	return rep
}

type revokeRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

func (s *Server) handleRevoke(r *http.Request) Reply {
	var req revokeRequest
	if err := decode(r, &req); err != nil {
		return badRequest("code is required")
	}
	rep := ok(successBody{Success: true, Message: "Activation code revoked"})
	if err := s.activation.Revoke(r.Context(), req.Code); err != nil {
		rep = errorReply(err)
		rep.Failed = false
	}
	rep.ResourceType, rep.ResourceID = resourceActivationCode, model.NormalizeCode(req.Code)
	return rep
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	companyID := strings.TrimSpace(r.URL.Query().Get("companyId"))
	if companyID == "" {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "companyId is required"})
		return
	}
	codes, err := s.activation.ListByCompany(r.Context(), companyID)
	if err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	now := time.Now()
	out := make([]codeView, 0, len(codes))
	for _, ac := range codes {
		out = append(out, toCodeView(ac, now))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"codes": out})
}

func (s *Server) handleGetCode(w http.ResponseWriter, r *http.Request) {
	ac, err := s.activation.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		rep := errorReply(err)
		if rep.Status == http.StatusBadRequest {
			rep = Reply{Status: http.StatusNotFound, Body: errorBody{Error: "Not found"}}
		}
		writeReply(w, r, rep)
		return
	}
	writeJSON(w, r, http.StatusOK, toCodeView(ac, time.Now()))
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AuditLogFilter{
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
		UserID:       q.Get("userId"),
		IPAddress:    q.Get("ip"),
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "from must be RFC3339"})
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "to must be RFC3339"})
		return
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Normalize()

	entries, total, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	if entries == nil {
		entries = []*model.AuditLogEntry{}
	}
	pages := 0
	if filter.Limit > 0 {
		pages = (total + filter.Limit - 1) / filter.Limit
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"logs": entries,
		"pagination": map[string]int{
			"page":  filter.Page,
			"limit": filter.Limit,
			"total": total,
			"pages": pages,
		},
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	window := s.statsWindow
	if h, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && h > 0 {
		window = time.Duration(h) * time.Hour
	}
	stats, err := s.audit.Stats(r.Context(), window)
	if err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) handleSecurityAlerts(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if v := r.URL.Query().Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "resolved must be true or false"})
			return
		}
		resolved = &b
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts, err := s.share.ListAlerts(r.Context(), resolved, limit)
	if err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	if alerts == nil {
		alerts = []*model.SecurityAlert{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.share.ResolveAlert(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	writeJSON(w, r, http.StatusOK, successBody{Success: true, Message: "Alert resolved"})
}

func (s *Server) handleEmailQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.emails.Stats(r.Context())
	if err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) handleRetryFailedEmails(w http.ResponseWriter, r *http.Request) {
	minutes := 60
	if v := r.URL.Query().Get("olderThanMinutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "olderThanMinutes must be a non-negative integer"})
			return
		}
		minutes = n
	}
	n, err := s.emails.RetryFailed(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		writeReply(w, r, errorReply(err))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true, "requeued": n})
}
