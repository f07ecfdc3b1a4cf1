// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/adapters/captcha"
	"fleet-maintenance/internal/infra/adapters/email"
	"fleet-maintenance/internal/infra/api"
	"fleet-maintenance/internal/infra/db/memory"
	pg "fleet-maintenance/internal/infra/db/postgres"
	"fleet-maintenance/internal/infra/guardstore"
	"fleet-maintenance/internal/infra/logging"
	"fleet-maintenance/internal/infra/metrics"
	red "fleet-maintenance/internal/infra/redis"
	"fleet-maintenance/internal/infra/scheduler"
	"fleet-maintenance/internal/infra/security"
	"fleet-maintenance/internal/infra/templates"
	"fleet-maintenance/internal/infra/worker"
	"fleet-maintenance/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

type repos struct {
	codes     repository.ActivationCodeRepository
	companies repository.CompanyRepository
	tx        repository.TransactionManager
	queue     repository.EmailQueueRepository
	delivered repository.DeliveryLogRepository
	audits    repository.AuditLogRepository
	alerts    repository.SecurityAlertRepository
}

type guards struct {
	rates    repository.RateLimitStore
	prints   repository.FingerprintStore
	shares   repository.CodeShareStore
	verifs   repository.VerificationStore
	sweepers []repository.Sweeper
}

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (memory storage, log email, test captcha)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("fleet activation service stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	g, gctx := errgroup.WithContext(ctx)

	// ---- Redis (optional) ----
	var redisClient *red.Client
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer c.Close()
		redisClient = c
	}

	// ---- Encryption ----
	var enc *security.EncryptionService
	if cfg.Security.EncryptionKey != "" {
		e, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		enc = e
	} else {
		logger.Warn().Msg("security.encryption_key not set; queued email payloads are stored in plain text")
	}

	// ---- Repositories ----
	var rp repos
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := pg.NewPgxPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		g.Go(func() error {
			pg.ReportPoolStats(gctx, pool, 15*time.Second, logger)
			return nil
		})
		var companies repository.CompanyRepository = pg.NewCompanyRepo(pool)
		if redisClient != nil {
			companies = pg.NewCompanyRepoCacheDecorator(companies, redisClient, cfg.Redis.CacheTTL)
		}
		rp = repos{
			codes:     pg.NewActivationCodeRepo(pool),
			companies: companies,
			tx:        pg.NewTxManager(pool),
			queue:     pg.NewEmailQueueRepo(pool, enc),
			delivered: pg.NewDeliveryLogRepo(pool),
			audits:    pg.NewAuditLogRepo(pool),
			alerts:    pg.NewSecurityAlertRepo(pool),
		}
	default:
		logger.Warn().Msg("memory storage selected; data is lost on restart")
		var seed []*model.Company
		if cfg.Runtime.Dev {
			seed = append(seed, &model.Company{ID: "demo-fleet", Name: "Demo Fleet Ltd", Email: "fleet-admin@example.com", CreatedAt: time.Now().UTC()})
		}
		rp = repos{
			codes:     memory.NewActivationCodeRepo(),
			companies: memory.NewCompanyRepo(seed...),
			tx:        memory.NewTxManager(),
			queue:     memory.NewEmailQueueRepo(),
			delivered: memory.NewDeliveryLogRepo(),
			audits:    memory.NewAuditLogRepo(),
			alerts:    memory.NewSecurityAlertRepo(),
		}
	}

	// ---- Guard stores ----
	var gs guards
	var lease scheduler.Lease
	switch cfg.Guard.Store {
	case "redis":
		gs = guards{
			rates:  red.NewRateLimitStore(redisClient),
			prints: red.NewFingerprintStore(redisClient),
			shares: red.NewCodeShareStore(redisClient),
			verifs: red.NewVerificationStore(redisClient),
		}
		lease = red.NewLocker(redisClient)
	default:
		rates := guardstore.NewRateLimitStore()
		prints := guardstore.NewFingerprintStore(guardstore.WithRetention(cfg.BruteForce.Window))
		shares := guardstore.NewCodeShareStore()
		verifs := guardstore.NewVerificationStore()
		gs = guards{
			rates: rates, prints: prints, shares: shares, verifs: verifs,
			sweepers: []repository.Sweeper{rates, prints, shares, verifs},
		}
	}

	// ---- Adapters ----
	renderer, err := templates.NewDefaultRenderer()
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	transport, err := email.NewTransport(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("email transport: %w", err)
	}
	verifier, err := captcha.NewVerifier(cfg.Captcha, logger)
	if err != nil {
		return fmt.Errorf("captcha: %w", err)
	}

	// ---- Use cases ----
	pool := worker.NewPool(cfg.Audit.Workers, logger)
	pool.Start(context.WithoutCancel(ctx))

	emails := usecase.NewEmailQueueUseCase(rp.queue, rp.delivered, renderer, transport, usecase.EmailQueuePolicy{
		BatchSize:   cfg.Email.BatchSize,
		MaxAttempts: cfg.Email.MaxAttempts,
		SendTimeout: cfg.Email.SendTimeout,
		ClaimTTL:    cfg.Email.ClaimTTL,
	}, logger)
	activation := usecase.NewActivationUseCase(rp.codes, rp.companies, rp.tx, emails, gs.verifs, usecase.ActivationPolicy{
		GenerationAttempts:   cfg.Activation.GenerationAttempts,
		DefaultExpiryDays:    cfg.Activation.DefaultExpiryDays,
		ExtendedExpiryDays:   cfg.Activation.ExtendedExpiryDays,
		RegenerationLimit:    cfg.Activation.RegenerationLimit,
		ReminderLookahead:    cfg.Activation.ReminderLookahead,
		VerificationTTL:      cfg.Activation.VerificationTTL,
		VerificationAttempts: cfg.Activation.VerificationAttempts,
		NotificationBatch:    cfg.Activation.NotificationBatch,
		ActivationURLPrefix:  cfg.Activation.ActivationURLPrefix,
	}, logger, cfg.Runtime.Dev)
	limiter := usecase.NewRateLimiter(gs.rates, cfg.RateLimits, logger)
	guard := usecase.NewBruteForceGuard(gs.prints, verifier, usecase.BruteForcePolicy{
		FailureThreshold: cfg.BruteForce.FailureThreshold,
		Window:           cfg.BruteForce.Window,
		CaptchaTTL:       cfg.BruteForce.CaptchaTTL,
		RapidFireWindow:  cfg.BruteForce.RapidFireWindow,
	}, logger)
	share := usecase.NewCodeShareDetector(gs.shares, rp.alerts, activation, usecase.CodeSharePolicy{
		IPThreshold: cfg.CodeSharing.IPThreshold,
		TrackerTTL:  cfg.CodeSharing.TrackerTTL,
	}, logger)
	audit := usecase.NewAuditUseCase(rp.audits, pool, logger)

	// ---- Scheduler ----
	sched := scheduler.New(cfg.Scheduler.JobTimeout, lease, logger)
	if err := scheduler.Register(sched, cfg.Scheduler, scheduler.Jobs{
		Emails:   emails,
		Notifier: activation,
		Audit:    audit,
		Sweepers: gs.sweepers,
		Retention: scheduler.Retention{
			EmailDays:  cfg.Email.RetentionDays,
			AuditDays:  cfg.Audit.RetentionDays,
			RetryAfter: cfg.Email.RetryAfter,
		},
	}, logger); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	sched.Start()

	// ---- HTTP ----
	jwtSecret := cfg.Security.JWTSecret
	if jwtSecret == "" {
		logger.Warn().Msg("security.jwt_secret not set; using an insecure development secret")
		jwtSecret = "dev-only-secret"
	}
	srv := api.NewServer(cfg.Server, api.Deps{
		Activation: activation,
		Limiter:    limiter,
		Guard:      guard,
		Share:      share,
		Audit:      audit,
		Emails:     emails,
		Auth:       api.NewAuthManager(jwtSecret, cfg.Security.TokenTTL),
	}, cfg.Audit.StatsWindow, logger)
	g.Go(srv.Start)

	// ---- Graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		sched.Stop(sctx)
		pool.Stop()
		return err
	})

	logger.Info().Str("version", version).Str("storage", cfg.Storage.Driver).
		Str("guard_store", cfg.Guard.Store).Msg("fleet activation service started")
	return g.Wait()
}
