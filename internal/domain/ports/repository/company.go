package repository

import (
	"context"

	"fleet-maintenance/internal/domain/model"
)

// CompanyRepository is a read-only view of the fleet CRUD layer's companies.
type CompanyRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Company, error)
	FindByEmail(ctx context.Context, tx Tx, email string) (*model.Company, error)
}
