package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.CompanyRepository = (*companyRepo)(nil)

type companyRepo struct {
	pool *pgxpool.Pool
}

func NewCompanyRepo(pool *pgxpool.Pool) *companyRepo {
	return &companyRepo{pool: pool}
}

func (r *companyRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Company, error) {
	return r.one(ctx, tx, `SELECT id, name, email, trial_ends_at, created_at FROM companies WHERE id = $1;`, id)
}

func (r *companyRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.Company, error) {
	return r.one(ctx, tx, `SELECT id, name, email, trial_ends_at, created_at FROM companies WHERE LOWER(email) = LOWER($1);`, email)
}

func (r *companyRepo) one(ctx context.Context, tx repository.Tx, q string, arg string) (*model.Company, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	var c model.Company
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.TrialEndsAt, &c.CreatedAt); err != nil {
		return nil, scanErr(err)
	}
	return &c, nil
}

// Upsert writes c for local seeding; production company rows belong to the fleet CRUD layer.
func (r *companyRepo) Upsert(ctx context.Context, tx repository.Tx, c *model.Company) error {
	_, err := execSQL(ctx, r.pool, tx, `
INSERT INTO companies (id, name, email, trial_ends_at, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, trial_ends_at = EXCLUDED.trial_ends_at;`,
		c.ID, c.Name, c.Email, c.TrialEndsAt, c.CreatedAt)
	return err
}
