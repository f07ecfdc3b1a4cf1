package model

import "time"

const AlertTypeCodeSharing = "code_sharing"

// SecurityAlert is a soft signal queued for human review.
type SecurityAlert struct {
	ID         string         `json:"id"`
	Type       string         `json:"alertType"`
	Message    string         `json:"alertMessage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Resolved   bool           `json:"resolved"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}
