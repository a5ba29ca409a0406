package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentProviderStripe = "stripe"
	PaymentProviderSumUp  = "sumup"
)

const (
	TransactionStatusRequiresAction = "requires_action"
	TransactionStatusPending        = "pending"
	TransactionStatusSucceeded      = "succeeded"
	TransactionStatusFailed         = "failed"
	TransactionStatusCanceled       = "canceled"
	TransactionStatusRefunded       = "refunded"
)

// TransactionMetadata is the known set of values stored next to a payment
// transaction. Anything provider specific lands in Extras.
type TransactionMetadata struct {
	CustomerEmail   string            `json:"customerEmail,omitempty"`
	Mode            string            `json:"mode,omitempty"`
	CheckoutURL     string            `json:"checkoutUrl,omitempty"`
	EventType       string            `json:"eventType,omitempty"`
	ProviderStatus  string            `json:"providerStatus,omitempty"`
	TransactionCode string            `json:"transactionCode,omitempty"`
	Manual          bool              `json:"manual,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Extras          map[string]string `json:"extras,omitempty"`
}

// PaymentTransaction is unique per (provider, provider_payment_id). Intent
// retries and webhook redeliveries upsert onto the same row.
type PaymentTransaction struct {
	ID                string                                  `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID          string                                  `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	OrderID           string                                  `gorm:"type:varchar(36);not null;index" json:"orderId"`
	AppointmentID     *string                                 `gorm:"type:varchar(36);index" json:"appointmentId,omitempty"`
	Provider          string                                  `gorm:"type:varchar(20);not null;index:ux_payment_transactions_provider_payment,unique,priority:1" json:"provider"`
	ProviderPaymentID string                                  `gorm:"type:varchar(191);not null;index:ux_payment_transactions_provider_payment,unique,priority:2;index" json:"providerPaymentId"`
	AmountCents       int64                                   `gorm:"not null" json:"amountCents"`
	RefundedCents     int64                                   `gorm:"not null;default:0" json:"refundedCents"`
	Currency          string                                  `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string                                  `gorm:"type:varchar(30);not null;index" json:"status"`
	Metadata          datatypes.JSONType[TransactionMetadata] `json:"metadata"`
	CreatedAt         time.Time                               `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time                               `gorm:"autoUpdateTime" json:"updatedAt"`
}

// RefundableCents is what is left after prior refunds.
func (t *PaymentTransaction) RefundableCents() int64 {
	left := t.AmountCents - t.RefundedCents
	if left < 0 {
		return 0
	}
	return left
}
