package models

import "time"

// WebhookEvent stores inbound provider webhook payloads keyed by
// (provider, event_id). ProcessedAt is only set once the business effects
// of the event have been applied.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_payment_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_payment_webhook_events_provider_event,unique,priority:2" json:"eventId"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"eventType"`
	Payload         string     `gorm:"type:longtext;not null" json:"payload"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ClaimedAt       *time.Time `gorm:"default:null" json:"claimedAt,omitempty"`
	ProcessedAt     *time.Time `gorm:"default:null;index" json:"processedAt,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processingError,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}
