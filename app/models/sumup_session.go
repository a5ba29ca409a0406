package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SumUpStatusPending    = "pending"
	SumUpStatusSuccessful = "successful"
	SumUpStatusFailed     = "failed"
	SumUpStatusCancelled  = "cancelled"
)

// SumUpSession tracks a SumUp checkout between creation and completion.
type SumUpSession struct {
	CheckoutID   string            `gorm:"type:varchar(191);primaryKey" json:"checkoutId"`
	TenantID     string            `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	OrderID      string            `gorm:"type:varchar(36);not null;index" json:"orderId"`
	Deeplink     string            `gorm:"type:text" json:"deeplink,omitempty"`
	Status       string            `gorm:"type:varchar(20);not null" json:"status"`
	AmountCents  int64             `gorm:"not null" json:"amountCents"`
	Currency     string            `gorm:"type:varchar(3);not null" json:"currency"`
	Metadata     datatypes.JSONMap `json:"metadata"`
	LastPolledAt *time.Time        `json:"lastPolledAt,omitempty"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}
