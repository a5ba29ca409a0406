package payments

import (
	"time"

	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
	"github.com/ManuelReschke/Plan5/internal/pkg/validation"
)

type IntentInput struct {
	TenantID      string            `json:"tenantId" validate:"required"`
	OrderID       string            `json:"orderId" validate:"required"`
	AmountCents   int64             `json:"amountCents" validate:"gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	CustomerEmail string            `json:"customerEmail" validate:"required,email"`
	CustomerName  string            `json:"customerName,omitempty"`
	Locale        string            `json:"locale,omitempty"`
	Mode          string            `json:"mode,omitempty" validate:"omitempty,oneof=payment_intent checkout_session"`
	Provider      string            `json:"provider,omitempty" validate:"omitempty,oneof=stripe sumup"`
	AppointmentID string            `json:"appointmentId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (in IntentInput) Validate() error {
	return validation.Struct(in)
}

type IntentResponse struct {
	Provider      string                `json:"provider"`
	ClientSecret  string                `json:"clientSecret,omitempty"`
	CheckoutURL   string                `json:"checkoutUrl,omitempty"`
	IntentID      string                `json:"intentId"`
	TransactionID string                `json:"transactionId"`
	Status        string                `json:"status"`
	AmountCents   int64                 `json:"amountCents"`
	Currency      string                `json:"currency"`
	NextAction    *providers.NextAction `json:"nextAction,omitempty"`
	Replayed      bool                  `json:"-"`
}

type RefundInput struct {
	TenantID      string `json:"tenantId" validate:"required"`
	OrderID       string `json:"orderId" validate:"required"`
	TransactionID string `json:"transactionId" validate:"required"`
	// AmountCents defaults to the remaining refundable amount.
	AmountCents *int64 `json:"amountCents,omitempty" validate:"omitempty,gt=0"`
	Reason      string `json:"reason,omitempty" validate:"max=255"`
	InitiatedBy string `json:"initiatedBy" validate:"required,oneof=customer staff system"`
	ActorID     string `json:"actorId,omitempty"`
}

func (in RefundInput) Validate() error {
	return validation.Struct(in)
}

type RefundResponse struct {
	RefundID         string `json:"refundId"`
	ProviderRefundID string `json:"providerRefundId,omitempty"`
	Status           string `json:"status"`
	AmountCents      int64  `json:"amountCents"`
	Currency         string `json:"currency"`
	Provider         string `json:"provider"`
	Replayed         bool   `json:"-"`
}

// WebhookAck is returned to the provider once the event row exists.
type WebhookAck struct {
	Received  bool   `json:"received"`
	EventID   string `json:"eventId"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Processed bool   `json:"processed"`
}

type CheckoutStatusResponse struct {
	CheckoutID   string    `json:"checkoutId"`
	Status       string    `json:"status"`
	AmountCents  int64     `json:"amountCents"`
	Currency     string    `json:"currency"`
	LastPolledAt time.Time `json:"lastPolledAt"`
	Deeplink     string    `json:"deeplink,omitempty"`
}

type ManualPaymentInput struct {
	TenantID   string `json:"tenantId" validate:"required"`
	OrderID    string `json:"orderId" validate:"required"`
	CheckoutID string `json:"checkoutId" validate:"required"`
	StaffID    string `json:"staffId,omitempty"`
	Notes      string `json:"notes,omitempty" validate:"max=1000"`
}

func (in ManualPaymentInput) Validate() error {
	return validation.Struct(in)
}

type ManualPaymentResponse struct {
	OK            bool   `json:"ok"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Replayed      bool   `json:"-"`
}
