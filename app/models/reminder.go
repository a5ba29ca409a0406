package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ReminderStatusScheduled  = "scheduled"
	ReminderStatusProcessing = "processing"
	ReminderStatusSent       = "sent"
	ReminderStatusFailed     = "failed"
)

const (
	ReminderChannelEmail   = "email"
	ReminderChannelWebhook = "webhook"
)

// ReminderPayload is what a channel needs to deliver a reminder.
type ReminderPayload struct {
	To         string         `json:"to,omitempty"`
	Locale     string         `json:"locale,omitempty"`
	WebhookURL string         `json:"webhookUrl,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Reminder moves scheduled -> processing -> sent|failed. The move to
// processing is a conditional update on status.
type Reminder struct {
	ID           string                              `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID     string                              `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	ResourceType string                              `gorm:"type:varchar(50);not null" json:"resourceType"`
	ResourceID   string                              `gorm:"type:varchar(36);not null" json:"resourceId"`
	Channel      string                              `gorm:"type:varchar(20);not null" json:"channel"`
	Template     string                              `gorm:"type:varchar(100)" json:"template,omitempty"`
	Payload      datatypes.JSONType[ReminderPayload] `json:"payload"`
	DeliverAt    time.Time                           `gorm:"not null;index:idx_reminders_status_deliver,priority:2" json:"deliverAt"`
	Status       string                              `gorm:"type:varchar(20);not null;default:'scheduled';index:idx_reminders_status_deliver,priority:1" json:"status"`
	Attempts     int                                 `gorm:"not null;default:0" json:"attempts"`
	ClaimedAt    *time.Time                          `json:"claimedAt,omitempty"`
	SentAt       *time.Time                          `json:"sentAt,omitempty"`
	LastError    string                              `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt    time.Time                           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time                           `gorm:"autoUpdateTime" json:"updatedAt"`
}
