package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"fleet-maintenance/internal/config"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
	"fleet-maintenance/internal/infra/api"
	pg "fleet-maintenance/internal/infra/db/postgres"
	"fleet-maintenance/internal/infra/guardstore"
	"fleet-maintenance/internal/infra/logging"
	"fleet-maintenance/internal/usecase"
)

// seed creates a demo company with a live activation code and prints tokens
// for exercising the HTTP API locally.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	companyID := flag.String("company-id", "demo-fleet", "company id")
	name := flag.String("name", "Demo Fleet Ltd", "company name")
	email := flag.String("email", "fleet-admin@example.com", "company email")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	companies := pg.NewCompanyRepo(pool)
	company := &model.Company{ID: *companyID, Name: *name, Email: *email, CreatedAt: time.Now().UTC()}
	if err := companies.Upsert(ctx, repository.NoTX, company); err != nil {
		logger.Fatal().Err(err).Msg("upsert company")
	}

	activation := usecase.NewActivationUseCase(
		pg.NewActivationCodeRepo(pool), companies, pg.NewTxManager(pool),
		nil, guardstore.NewVerificationStore(), usecase.ActivationPolicy{
			DefaultExpiryDays: cfg.Activation.DefaultExpiryDays,
		}, logger, true)

	existing, err := activation.ListByCompany(ctx, company.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("list codes")
	}
	var code *model.ActivationCode
	for _, ac := range existing {
		if ac.State(time.Now()) == model.CodeStateLive {
			code = ac
			break
		}
	}
	if code == nil {
		if code, err = activation.Generate(ctx, company.ID, 0, false); err != nil {
			logger.Fatal().Err(err).Msg("generate code")
		}
	}

	secret := cfg.Security.JWTSecret
	if secret == "" {
		secret = "dev-only-secret"
	}
	auth := api.NewAuthManager(secret, cfg.Security.TokenTTL)
	adminTok, err := auth.Mint(api.RoleAdmin, "seed-admin", "")
	if err != nil {
		logger.Fatal().Err(err).Msg("mint admin token")
	}
	companyTok, err := auth.Mint(api.RoleCompany, "seed-user", company.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint company token")
	}

	fmt.Printf("company:         %s <%s>\n", company.ID, company.Email)
	fmt.Printf("activation code: %s (expires %s)\n", code.Code, code.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("admin token:     %s\n", adminTok)
	fmt.Printf("company token:   %s\n", companyTok)
}
