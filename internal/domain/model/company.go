package model

import "time"

// Company is the owner of activation codes. Company records are managed by the
// fleet CRUD layer; this module only reads them.
type Company struct {
	ID          string
	Name        string
	Email       string
	TrialEndsAt *time.Time
	CreatedAt   time.Time
}
