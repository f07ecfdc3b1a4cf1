package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/infra/metrics"
	"fleet-maintenance/internal/usecase"
)

// Deps are the use cases served over HTTP.
type Deps struct {
	Activation *usecase.ActivationUseCase
	Limiter    *usecase.RateLimiter
	Guard      *usecase.BruteForceGuard
	Share      *usecase.CodeShareDetector
	Audit      *usecase.AuditUseCase
	Emails     *usecase.EmailQueueUseCase
	Auth       *AuthManager
}

type Server struct {
	cfg         config.ServerConfig
	activation  *usecase.ActivationUseCase
	limiter     *usecase.RateLimiter
	guard       *usecase.BruteForceGuard
	share       *usecase.CodeShareDetector
	audit       *usecase.AuditUseCase
	emails      *usecase.EmailQueueUseCase
	auth        *AuthManager
	statsWindow time.Duration
	log         *zerolog.Logger
	server      *http.Server
}

func NewServer(cfg config.ServerConfig, deps Deps, statsWindow time.Duration, logger *zerolog.Logger) *Server {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "api").Logger()
	}
	if statsWindow <= 0 {
		statsWindow = 24 * time.Hour
	}
	s := &Server{
		cfg:         cfg,
		activation:  deps.Activation,
		limiter:     deps.Limiter,
		guard:       deps.Guard,
		share:       deps.Share,
		audit:       deps.Audit,
		emails:      deps.Emails,
		auth:        deps.Auth,
		statsWindow: statsWindow,
		log:         &l,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	general := s.limited(model.LimiterGeneral, byIP)

	r.Route("/api/v1/activation", func(r chi.Router) {
		r.Post("/validate", serve(chain(s.handleValidate,
			withState, s.audited("validate_activation_code"), general,
			s.limited(model.LimiterValidation, byIP), s.bruteForced, s.codeShared)))

		r.With(s.requireRole(RoleCompany)).Post("/use", serve(chain(s.handleUse,
			withState, s.audited("use_activation_code"), general,
			s.limited(model.LimiterUsage, byIP), s.bruteForced, s.codeShared)))

		r.Post("/regenerate/request", serve(chain(s.handleRequestRegeneration,
			withState, s.audited("request_regeneration"), general,
			s.limited(model.LimiterHelpRequest, byIPAnd("email")))))

		r.Post("/regenerate", serve(chain(s.handleRegenerate,
			withState, s.audited("regenerate_activation_code"), general,
			s.limited(model.LimiterRegeneration, byIPAnd("email")))))
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(s.requireRole(RoleAdmin))

		r.Post("/activation/generate", serve(chain(s.handleGenerate,
			withState, s.audited("admin_generate_code"), general)))
		r.Post("/activation/revoke", serve(chain(s.handleRevoke,
			withState, s.audited("admin_revoke_code"), general)))
		r.Get("/activation/codes", s.handleListCodes)
		r.Get("/activation/codes/{code}", s.handleGetCode)

		r.Get("/audit-logs", s.handleAuditLogs)
		r.Get("/audit-logs/stats", s.handleAuditStats)
		r.Get("/security-alerts", s.handleSecurityAlerts)
		r.Post("/security-alerts/{id}/resolve", s.handleResolveAlert)
		r.Get("/email-queue/stats", s.handleEmailQueueStats)
		r.Post("/email-queue/retry", s.handleRetryFailedEmails)
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
