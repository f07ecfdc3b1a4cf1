package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/usecase"
)

const resourceActivationCode = "activation_code"

var validate = validator.New(validator.WithRequiredStructEnabled())

var errBadBody = errors.New("invalid request body")

// decode reads the buffered body into dst and validates its tags.
func decode(r *http.Request, dst any) error {
	raw := stateFrom(r.Context()).raw
	if len(raw) == 0 {
		return errBadBody
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadBody
	}
	if err := validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

type codeRequest struct {
	Code         string `json:"code" validate:"required,max=32"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

type validateResponse struct {
	Valid     bool   `json:"valid"`
	CompanyID string `json:"companyId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type successBody struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}

func (s *Server) handleValidate(r *http.Request) Reply {
	var req codeRequest
	if err := decode(r, &req); err != nil {
		rep := ok(validateResponse{Valid: false, Error: usecase.ValidationMessage(domain.ErrCodeNotFound)})
		rep.Failed, rep.Err = true, err
		return rep
	}
	v, err := s.activation.Validate(r.Context(), req.Code)
	if err != nil {
		return errorReply(err)
	}
	rep := ok(validateResponse{Valid: v.Valid, CompanyID: v.CompanyID})
	rep.ResourceType, rep.ResourceID = resourceActivationCode, v.Code
	if !v.Valid {
		rep.Body = validateResponse{Valid: false, Error: usecase.ValidationMessage(v.Err())}
		rep.Failed, rep.Err = true, v.Err()
	}
	return rep
}

func (s *Server) handleUse(r *http.Request) Reply {
	claims := claimsFrom(r.Context())
	if claims == nil || claims.CompanyID == "" {
		return Reply{Status: http.StatusUnauthorized, Body: errorBody{Error: "Unauthorized"}}
	}
	var req codeRequest
	if err := decode(r, &req); err != nil {
		rep := errorReply(domain.ErrCodeNotFound)
		rep.Err = err
		return rep
	}
	ac, err := s.activation.Use(r.Context(), claims.CompanyID, req.Code)
	if err != nil {
		rep := errorReply(err)
		rep.ResourceType, rep.ResourceID = resourceActivationCode, req.Code
		return rep
	}
	rep := ok(successBody{Success: true, Message: "Account activated successfully", ActivatedAt: ac.ActivatedAt})
	rep.ResourceType, rep.ResourceID = resourceActivationCode, ac.Code
	return rep
}

type regenerationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (s *Server) handleRequestRegeneration(r *http.Request) Reply {
	var req regenerationRequest
	if err := decode(r, &req); err != nil {
		return badRequest("A valid email is required")
	}
	if err := s.activation.RequestRegeneration(r.Context(), req.Email); err != nil {
		return errorReply(err)
	}
	return ok(successBody{Success: true, Message: "If the email is registered, a verification code has been sent"})
}

type regenerateRequest struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	Reason           string `json:"reason" validate:"max=500"`
	VerificationCode string `json:"verificationCode" validate:"required,len=6,numeric"`
	ExtendTrial      bool   `json:"extendTrial"`
}

func (s *Server) handleRegenerate(r *http.Request) Reply {
	var req regenerateRequest
	if err := decode(r, &req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "VerificationCode" {
					return errorReply(domain.ErrInvalidVerification)
				}
			}
		}
		return badRequest("Email and verification code are required")
	}
	fresh, err := s.activation.ConfirmRegeneration(r.Context(), req.Email, req.Reason, req.VerificationCode, req.ExtendTrial)
	if err != nil {
		return errorReply(err)
	}
	rep := ok(successBody{Success: true, Message: "A new activation code has been sent to your email"})
	rep.ResourceType, rep.ResourceID = resourceActivationCode, fresh.Code
	return rep
}
