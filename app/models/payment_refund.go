package models

import "time"

const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"
)

const (
	InitiatedByCustomer = "customer"
	InitiatedByStaff    = "staff"
	InitiatedBySystem   = "system"
)

type PaymentRefund struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionID    string    `gorm:"type:varchar(36);not null;index" json:"transactionId"`
	OrderID          string    `gorm:"type:varchar(36);not null;index" json:"orderId"`
	ProviderRefundID string    `gorm:"type:varchar(191);index" json:"providerRefundId"`
	AmountCents      int64     `gorm:"not null" json:"amountCents"`
	Status           string    `gorm:"type:varchar(20);not null" json:"status"`
	Reason           string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	InitiatedBy      string    `gorm:"type:varchar(20);not null" json:"initiatedBy"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
