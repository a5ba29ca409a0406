// Package providers translates internal payment requests into Stripe and
// SumUp API calls and normalizes what comes back, including webhooks.
package providers

import (
	"context"
	"strings"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

const (
	NextActionRedirect  = "redirect"
	NextActionUseSDK    = "use-sdk"
	NextActionAppSwitch = "app-switch"
)

const (
	ModePaymentIntent   = "payment_intent"
	ModeCheckoutSession = "checkout_session"
)

// NextAction tells the client what interaction the payment still needs.
type NextAction struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type IntentRequest struct {
	TenantID       string
	OrderID        string
	AppointmentID  string
	AmountCents    int64
	Currency       string
	CustomerEmail  string
	CustomerName   string
	Locale         string
	Mode           string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type IntentResult struct {
	ProviderID     string
	Status         string
	ProviderStatus string
	ClientSecret   string
	CheckoutURL    string
	NextAction     *NextAction
}

type RefundRequest struct {
	ProviderPaymentID string
	// TransactionCode is the provider's settlement reference when it differs
	// from ProviderPaymentID (SumUp).
	TransactionCode string
	AmountCents     int64
	Currency        string
	Reason          string
	IdempotencyKey  string
}

type RefundResult struct {
	ProviderRefundID string
	Status           string
}

// WebhookEvent is a provider webhook reduced to the fields reconciliation
// needs. Status is empty for event types that carry no payment state.
type WebhookEvent struct {
	Provider          string
	ID                string
	Type              string
	ProviderPaymentID string
	// PaymentReference points at the payment an object belongs to when the
	// object itself is not the payment (Stripe checkout sessions).
	PaymentReference string
	CheckoutID       string
	TransactionCode  string
	AmountCents      int64
	Currency         string
	Status           string
	ProviderStatus   string
	OrderID          string
	TenantID         string
	AppointmentID    string
	Extras           map[string]string
}

type CheckoutStatus struct {
	CheckoutID      string
	Status          string
	ProviderStatus  string
	AmountCents     int64
	Currency        string
	CheckoutURL     string
	TransactionCode string
}

// Adapter is implemented by every payment provider.
type Adapter interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool
	// WebhookSecret returns the signing secret or a ConfigurationError.
	WebhookSecret() (string, error)
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	ParseWebhookEvent(rawBody []byte) (*WebhookEvent, error)
}

// StatusChecker is implemented by providers that can be polled for a
// checkout's state.
type StatusChecker interface {
	CheckoutStatus(ctx context.Context, checkoutID string) (*CheckoutStatus, error)
}

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, apperror.Validation("provider", "unsupported provider %q", name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
