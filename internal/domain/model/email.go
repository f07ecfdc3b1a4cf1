package model

import (
	"strings"
	"time"
)

type EmailPriority string

const (
	EmailPriorityHigh   EmailPriority = "high"
	EmailPriorityNormal EmailPriority = "normal"
	EmailPriorityLow    EmailPriority = "low"
)

// Rank orders priorities for the drain; lower drains first.
func (p EmailPriority) Rank() int {
	switch p {
	case EmailPriorityHigh:
		return 0
	case EmailPriorityLow:
		return 2
	default:
		return 1
	}
}

// ParseEmailPriority maps free text onto a priority, defaulting to normal.
func ParseEmailPriority(s string) EmailPriority {
	switch EmailPriority(strings.ToLower(strings.TrimSpace(s))) {
	case EmailPriorityHigh:
		return EmailPriorityHigh
	case EmailPriorityLow:
		return EmailPriorityLow
	default:
		return EmailPriorityNormal
	}
}

type EmailStatus string

const (
	EmailStatusPending    EmailStatus = "pending"
	EmailStatusProcessing EmailStatus = "processing"
	EmailStatusSent       EmailStatus = "sent"
	EmailStatusFailed     EmailStatus = "failed"
)

// Terminal reports whether the status is eligible for retention cleanup.
func (s EmailStatus) Terminal() bool {
	return s == EmailStatusSent || s == EmailStatusFailed
}

// EmailQueueItem is a templated notification waiting for (or done with) delivery.
// Only the email queue engine mutates it after creation.
type EmailQueueItem struct {
	ID           string
	To           string
	Subject      string
	TemplateName string
	TemplateData map[string]any
	Priority     EmailPriority
	Status       EmailStatus
	Attempts     int
	MaxAttempts  int
	ScheduledAt  time.Time
	SentAt       *time.Time
	FailedAt     *time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Due reports whether the item may be picked by a drain at now.
func (i *EmailQueueItem) Due(now time.Time) bool {
	if i.Status != EmailStatusPending && i.Status != EmailStatusFailed {
		return false
	}
	return !i.ScheduledAt.After(now) && i.Attempts < i.MaxAttempts
}

// DeliveryLog records a successful hand-off to the transport.
type DeliveryLog struct {
	ID           string
	QueueItemID  string
	To           string
	TemplateName string
	MessageID    string
	SentAt       time.Time
}

// EmailQueueStats counts queue items by status.
type EmailQueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}
