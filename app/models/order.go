package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OrderStatusDraft     = "draft"
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusRefunded  = "refunded"
	OrderStatusCompleted = "completed"
	OrderStatusErrored   = "errored"
)

// OrderMetadata holds the billing identity captured at checkout. Extras is
// the escape hatch for channel specific values.
type OrderMetadata struct {
	BillingName       string            `json:"billingName,omitempty"`
	BillingEmail      string            `json:"billingEmail,omitempty"`
	BillingAddress    string            `json:"billingAddress,omitempty"`
	BillingPostalCode string            `json:"billingPostalCode,omitempty"`
	BillingCity       string            `json:"billingCity,omitempty"`
	BillingCountry    string            `json:"billingCountry,omitempty"`
	Extras            map[string]string `json:"extras,omitempty"`
}

type Order struct {
	ID              string                            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID        string                            `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	CustomerID      string                            `gorm:"type:varchar(36);index" json:"customerId"`
	Status          string                            `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	TotalCents      int64                             `gorm:"not null" json:"totalCents"`
	Currency        string                            `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentIntentID string                            `gorm:"type:varchar(191);index" json:"paymentIntentId,omitempty"`
	Metadata        datatypes.JSONType[OrderMetadata] `json:"metadata"`
	Items           []OrderItem                       `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt       time.Time                         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time                         `gorm:"autoUpdateTime" json:"updatedAt"`
}

type OrderItem struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID        string    `gorm:"type:varchar(36);not null;index" json:"orderId"`
	Description    string    `gorm:"type:varchar(255);not null" json:"description"`
	Quantity       int       `gorm:"not null;default:1" json:"quantity"`
	UnitPriceCents int64     `gorm:"not null" json:"unitPriceCents"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
