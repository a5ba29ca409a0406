package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

type StripeAdapter struct {
	SecretKey     string
	SigningSecret string
	APIBaseURL    string
	SuccessURL    string
	CancelURL     string
	Tolerance     time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

// NewStripeAdapterFromEnv fails when STRIPE_SECRET_KEY is not set.
func NewStripeAdapterFromEnv(p env.Provider) (*StripeAdapter, error) {
	key, err := p.Require("STRIPE_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	return &StripeAdapter{
		SecretKey:     key,
		SigningSecret: strings.TrimSpace(p.Optional("STRIPE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(p.Optional("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		SuccessURL:    strings.TrimSpace(p.Optional("CHECKOUT_SUCCESS_URL", "")),
		CancelURL:     strings.TrimSpace(p.Optional("CHECKOUT_CANCEL_URL", "")),
		Tolerance:     DefaultSignatureTolerance,
		HTTPClient:    newHTTPClient(),
		Now:           time.Now,
	}, nil
}

func (s *StripeAdapter) Name() string { return models.PaymentProviderStripe }

func (s *StripeAdapter) SignatureHeader() string { return "Stripe-Signature" }

func (s *StripeAdapter) WebhookSecret() (string, error) {
	if s.SigningSecret == "" {
		return "", &apperror.ConfigurationError{Key: "STRIPE_WEBHOOK_SECRET"}
	}
	return s.SigningSecret, nil
}

func (s *StripeAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	return VerifySignature(rawBody, signatureHeader, secret, s.Tolerance, s.now())
}

func (s *StripeAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.AmountCents <= 0 {
		return nil, apperror.Validation("amountCents", "must be positive")
	}
	if req.Mode == ModeCheckoutSession {
		return s.createCheckoutSession(ctx, req)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.CustomerEmail != "" {
		form.Set("receipt_email", req.CustomerEmail)
	}
	form.Set("description", describe(req))
	setMetadata(form, "metadata", intentMetadata(req))

	body, status, err := s.post(ctx, "create_intent", "/v1/payment_intents", form, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ClientSecret string `json:"client_secret"`
		NextAction   *struct {
			Type          string `json:"type"`
			RedirectToURL struct {
				URL string `json:"url"`
			} `json:"redirect_to_url"`
		} `json:"next_action"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeError(s.Name(), status, body, err)
	}
	if raw.ID == "" {
		return nil, decodeError(s.Name(), status, body, errors.New("payment intent response missing id"))
	}

	out := &IntentResult{
		ProviderID:     raw.ID,
		Status:         StripeIntentStatus(raw.Status),
		ProviderStatus: raw.Status,
		ClientSecret:   raw.ClientSecret,
	}
	if raw.NextAction != nil {
		switch raw.NextAction.Type {
		case "redirect_to_url":
			out.NextAction = &NextAction{Type: NextActionRedirect, URL: raw.NextAction.RedirectToURL.URL}
		case "use_stripe_sdk":
			out.NextAction = &NextAction{Type: NextActionUseSDK}
		}
	}
	return out, nil
}

func (s *StripeAdapter) createCheckoutSession(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if s.SuccessURL == "" {
		return nil, &apperror.ConfigurationError{Key: "CHECKOUT_SUCCESS_URL"}
	}
	if s.CancelURL == "" {
		return nil, &apperror.ConfigurationError{Key: "CHECKOUT_CANCEL_URL"}
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", s.SuccessURL)
	form.Set("cancel_url", s.CancelURL)
	form.Set("client_reference_id", req.OrderID)
	if req.CustomerEmail != "" {
		form.Set("customer_email", req.CustomerEmail)
	}
	if locale := stripeLocale(req.Locale); locale != "" {
		form.Set("locale", locale)
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", describe(req))
	meta := intentMetadata(req)
	setMetadata(form, "metadata", meta)
	setMetadata(form, "payment_intent_data[metadata]", meta)

	body, status, err := s.post(ctx, "create_checkout_session", "/v1/checkout/sessions", form, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID            string `json:"id"`
		URL           string `json:"url"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeError(s.Name(), status, body, err)
	}
	if raw.ID == "" {
		return nil, decodeError(s.Name(), status, body, errors.New("checkout session response missing id"))
	}

	// The intent may not exist until the customer opens the session.
	providerID := raw.PaymentIntent
	if providerID == "" {
		providerID = raw.ID
	}
	return &IntentResult{
		ProviderID:     providerID,
		Status:         models.TransactionStatusRequiresAction,
		ProviderStatus: "open",
		CheckoutURL:    raw.URL,
		NextAction:     &NextAction{Type: NextActionRedirect, URL: raw.URL},
	}, nil
}

func (s *StripeAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.ProviderPaymentID == "" {
		return nil, apperror.Validation("transactionId", "provider payment id is required")
	}
	if req.AmountCents <= 0 {
		return nil, apperror.Validation("amountCents", "must be positive")
	}

	form := url.Values{}
	form.Set("payment_intent", req.ProviderPaymentID)
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("reason", "requested_by_customer")
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	body, status, err := s.post(ctx, "refund", "/v1/refunds", form, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeError(s.Name(), status, body, err)
	}
	return &RefundResult{ProviderRefundID: raw.ID, Status: stripeRefundStatus(raw.Status)}, nil
}

func (s *StripeAdapter) ParseWebhookEvent(rawBody []byte) (*WebhookEvent, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID             string            `json:"id"`
				Object         string            `json:"object"`
				Status         string            `json:"status"`
				PaymentStatus  string            `json:"payment_status"`
				Amount         int64             `json:"amount"`
				AmountReceived int64             `json:"amount_received"`
				AmountTotal    int64             `json:"amount_total"`
				Currency       string            `json:"currency"`
				PaymentIntent  string            `json:"payment_intent"`
				Metadata       map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, apperror.Validation("payload", "invalid stripe event: %v", err)
	}
	obj := raw.Data.Object

	event := &WebhookEvent{
		Provider:       s.Name(),
		ID:             raw.ID,
		Type:           raw.Type,
		Currency:       strings.ToUpper(obj.Currency),
		ProviderStatus: obj.Status,
	}
	applyMetadata(event, obj.Metadata)

	switch {
	case strings.HasPrefix(raw.Type, "payment_intent."):
		event.ProviderPaymentID = obj.ID
		event.AmountCents = obj.AmountReceived
		if event.AmountCents <= 0 {
			event.AmountCents = obj.Amount
		}
		event.Status = StripeIntentStatus(obj.Status)
	case strings.HasPrefix(raw.Type, "checkout.session."):
		event.PaymentReference = obj.PaymentIntent
		event.CheckoutID = obj.ID
		event.ProviderPaymentID = obj.PaymentIntent
		if event.ProviderPaymentID == "" {
			event.ProviderPaymentID = obj.ID
		}
		event.AmountCents = obj.AmountTotal
		event.ProviderStatus = obj.PaymentStatus
		event.Status = stripeCheckoutStatus(raw.Type, obj.PaymentStatus)
	default:
		// Charges, refunds and disputes are acknowledged without reconciliation.
		event.PaymentReference = obj.PaymentIntent
	}
	return event, nil
}

// StripeIntentStatus maps a PaymentIntent status onto a transaction status.
func StripeIntentStatus(status string) string {
	switch status {
	case "succeeded":
		return models.TransactionStatusSucceeded
	case "processing", "requires_capture":
		return models.TransactionStatusPending
	case "canceled":
		return models.TransactionStatusCanceled
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return models.TransactionStatusRequiresAction
	default:
		return models.TransactionStatusPending
	}
}

func stripeCheckoutStatus(eventType, paymentStatus string) string {
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if paymentStatus == "paid" || paymentStatus == "no_payment_required" {
			return models.TransactionStatusSucceeded
		}
		return models.TransactionStatusPending
	case "checkout.session.async_payment_failed":
		return models.TransactionStatusFailed
	case "checkout.session.expired":
		return models.TransactionStatusCanceled
	}
	return ""
}

func stripeRefundStatus(status string) string {
	switch status {
	case "succeeded":
		return models.RefundStatusSucceeded
	case "failed", "canceled":
		return models.RefundStatusFailed
	default:
		return models.RefundStatusPending
	}
}

func applyMetadata(event *WebhookEvent, meta map[string]string) {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(meta[k]); v != "" {
				return v
			}
		}
		return ""
	}
	event.OrderID = pick("order_id", "orderId")
	event.TenantID = pick("tenant_id", "tenantId")
	event.AppointmentID = pick("appointment_id", "appointmentId")

	for k, v := range meta {
		switch k {
		case "order_id", "orderId", "tenant_id", "tenantId", "appointment_id", "appointmentId":
			continue
		}
		if event.Extras == nil {
			event.Extras = map[string]string{}
		}
		event.Extras[k] = v
	}
}

func (s *StripeAdapter) post(ctx context.Context, operation, path string, form url.Values, idempotencyKey string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return do(s.client(), s.Name(), operation, req)
}

func (s *StripeAdapter) baseURL() string {
	if s.APIBaseURL == "" {
		return defaultStripeAPIBaseURL
	}
	return strings.TrimRight(s.APIBaseURL, "/")
}

func (s *StripeAdapter) client() *http.Client {
	if s.HTTPClient == nil {
		s.HTTPClient = newHTTPClient()
	}
	return s.HTTPClient
}

func (s *StripeAdapter) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func intentMetadata(req IntentRequest) map[string]string {
	meta := map[string]string{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["order_id"] = req.OrderID
	meta["tenant_id"] = req.TenantID
	if req.AppointmentID != "" {
		meta["appointment_id"] = req.AppointmentID
	}
	return meta
}

func setMetadata(form url.Values, prefix string, meta map[string]string) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if meta[k] == "" {
			continue
		}
		form.Set(fmt.Sprintf("%s[%s]", prefix, k), meta[k])
	}
}

func describe(req IntentRequest) string {
	if req.Description != "" {
		return req.Description
	}
	return "Order " + req.OrderID
}

// stripeLocale keeps the language part of a BCP 47 tag ("de-CH" -> "de").
func stripeLocale(locale string) string {
	lang, _, _ := strings.Cut(strings.TrimSpace(locale), "-")
	return strings.ToLower(lang)
}
