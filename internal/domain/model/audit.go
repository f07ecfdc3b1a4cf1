package model

import "time"

// AuditLogEntry is an append-only record of a guarded request and its outcome.
type AuditLogEntry struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	ResourceType   string         `json:"resourceType,omitempty"`
	ResourceID     string         `json:"resourceId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	IPAddress      string         `json:"ipAddress,omitempty"`
	UserAgent      string         `json:"userAgent,omitempty"`
	Method         string         `json:"method,omitempty"`
	Path           string         `json:"path,omitempty"`
	RequestBody    map[string]any `json:"requestBody,omitempty"`
	ResponseStatus int            `json:"responseStatus"`
	LatencyMs      int64          `json:"latencyMs"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Succeeded treats any non-error HTTP status as success.
func (e *AuditLogEntry) Succeeded() bool {
	return e.ResponseStatus > 0 && e.ResponseStatus < 400
}

// AuditLogFilter selects entries for Query. Zero values match everything.
type AuditLogFilter struct {
	Action       string
	ResourceType string
	ResourceID   string
	UserID       string
	IPAddress    string
	From         *time.Time
	To           *time.Time
	Page         int
	Limit        int
}

// Normalize clamps paging to sane bounds.
func (f *AuditLogFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

// Offset is the zero-based index of the first row of the page.
func (f AuditLogFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// AuditStats aggregates entries over a trailing window.
type AuditStats struct {
	Since        time.Time  `json:"since"`
	Total        int        `json:"total"`
	Success      int        `json:"success"`
	Errors       int        `json:"errors"`
	AvgLatencyMs float64    `json:"avgLatencyMs"`
	MaxLatencyMs int64      `json:"maxLatencyMs"`
	ByAction     []KeyCount `json:"byAction"`
	ByIP         []KeyCount `json:"byIp"`
}
