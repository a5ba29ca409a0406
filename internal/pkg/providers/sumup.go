package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

const defaultSumUpAPIBaseURL = "https://api.sumup.com"

type SumUpAdapter struct {
	AccessToken   string
	MerchantCode  string
	SigningSecret string
	APIBaseURL    string
	Tolerance     time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
	NewID      func() string
}

// NewSumUpAdapterFromEnv fails when SUMUP_ACCESS_TOKEN or SUMUP_CLIENT_ID
// is not set.
func NewSumUpAdapterFromEnv(p env.Provider) (*SumUpAdapter, error) {
	token, err := p.Require("SUMUP_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}
	merchant, err := p.Require("SUMUP_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	return &SumUpAdapter{
		AccessToken:   token,
		MerchantCode:  merchant,
		SigningSecret: strings.TrimSpace(p.Optional("SUMUP_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(p.Optional("SUMUP_API_BASE_URL", defaultSumUpAPIBaseURL), "/"),
		Tolerance:     DefaultSignatureTolerance,
		HTTPClient:    newHTTPClient(),
		Now:           time.Now,
		NewID:         uuid.NewString,
	}, nil
}

func (s *SumUpAdapter) Name() string { return models.PaymentProviderSumUp }

func (s *SumUpAdapter) SignatureHeader() string { return "X-SumUp-Signature" }

func (s *SumUpAdapter) WebhookSecret() (string, error) {
	if s.SigningSecret == "" {
		return "", &apperror.ConfigurationError{Key: "SUMUP_WEBHOOK_SECRET"}
	}
	return s.SigningSecret, nil
}

func (s *SumUpAdapter) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	return VerifySignature(rawBody, signatureHeader, secret, s.Tolerance, s.now())
}

type sumUpCheckout struct {
	ID                string      `json:"id"`
	CheckoutReference string      `json:"checkout_reference"`
	Status            string      `json:"status"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	CheckoutURL       string      `json:"checkout_url"`
	HostedCheckoutURL string      `json:"hosted_checkout_url"`
	Transactions      []struct {
		TransactionCode string `json:"transaction_code"`
		Status          string `json:"status"`
	} `json:"transactions"`
}

func (c sumUpCheckout) url() string {
	if c.HostedCheckoutURL != "" {
		return c.HostedCheckoutURL
	}
	return c.CheckoutURL
}

func (c sumUpCheckout) transactionCode() string {
	for _, t := range c.Transactions {
		if t.TransactionCode != "" {
			return t.TransactionCode
		}
	}
	return ""
}

func (s *SumUpAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.AmountCents <= 0 {
		return nil, apperror.Validation("amountCents", "must be positive")
	}

	payload := map[string]any{
		"checkout_reference": s.newID(),
		"amount":             MajorNumber(req.AmountCents),
		"currency":           strings.ToUpper(req.Currency),
		"merchant_code":      s.MerchantCode,
		"description":        describe(req),
		"hosted_checkout":    map[string]bool{"enabled": true},
	}
	body, status, err := s.send(ctx, "create_intent", http.MethodPost, "/v0.1/checkouts", payload)
	if err != nil {
		return nil, err
	}

	var raw sumUpCheckout
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeError(s.Name(), status, body, err)
	}
	if raw.ID == "" {
		return nil, decodeError(s.Name(), status, body, errors.New("checkout response missing id"))
	}

	out := &IntentResult{
		ProviderID:     raw.ID,
		Status:         models.TransactionStatusPending,
		ProviderStatus: raw.Status,
		CheckoutURL:    raw.url(),
	}
	if out.CheckoutURL != "" {
		out.NextAction = &NextAction{Type: NextActionAppSwitch, URL: out.CheckoutURL}
	} else {
		out.NextAction = &NextAction{Type: NextActionUseSDK}
	}
	return out, nil
}

// Refund refunds a settled SumUp transaction. SumUp answers 204 without a
// body, so the refund carries no provider id and is final immediately.
func (s *SumUpAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	code := req.TransactionCode
	if code == "" {
		code = req.ProviderPaymentID
	}
	if code == "" {
		return nil, apperror.Validation("transactionId", "sumup transaction code is required")
	}
	if req.AmountCents <= 0 {
		return nil, apperror.Validation("amountCents", "must be positive")
	}

	payload := map[string]any{"amount": MajorNumber(req.AmountCents)}
	body, status, err := s.send(ctx, "refund", http.MethodPost, "/v0.1/me/refund/"+url.PathEscape(code), payload)
	if err != nil {
		return nil, err
	}

	out := &RefundResult{Status: models.RefundStatusSucceeded}
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeError(s.Name(), status, body, err)
	}
	out.ProviderRefundID = raw.ID
	if strings.EqualFold(raw.Status, "pending") {
		out.Status = models.RefundStatusPending
	}
	return out, nil
}

func (s *SumUpAdapter) CheckoutStatus(ctx context.Context, checkoutID string) (*CheckoutStatus, error) {
	if strings.TrimSpace(checkoutID) == "" {
		return nil, apperror.Validation("checkoutId", "is required")
	}
	body, status, err := s.send(ctx, "checkout_status", http.MethodGet, "/v0.1/checkouts/"+url.PathEscape(checkoutID), nil)
	if err != nil {
		return nil, err
	}

	var raw sumUpCheckout
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, decodeError(s.Name(), status, body, err)
	}
	out := &CheckoutStatus{
		CheckoutID:      raw.ID,
		Status:          SumUpSessionStatus(raw.Status),
		ProviderStatus:  raw.Status,
		Currency:        strings.ToUpper(raw.Currency),
		CheckoutURL:     raw.url(),
		TransactionCode: raw.transactionCode(),
	}
	if out.CheckoutID == "" {
		out.CheckoutID = checkoutID
	}
	if raw.Amount != "" {
		if out.AmountCents, err = ParseMajor(raw.Amount.String()); err != nil {
			return nil, decodeError(s.Name(), status, body, err)
		}
	}
	return out, nil
}

// ParseWebhookEvent normalizes a SumUp status callback. SumUp reuses the
// checkout id as the payload id, so the event id also carries the status to
// keep distinct transitions apart.
func (s *SumUpAdapter) ParseWebhookEvent(rawBody []byte) (*WebhookEvent, error) {
	var raw struct {
		EventID         string            `json:"event_id"`
		ID              string            `json:"id"`
		EventType       string            `json:"event_type"`
		CheckoutID      string            `json:"checkout_id"`
		TransactionCode string            `json:"transaction_code"`
		Status          string            `json:"status"`
		Amount          json.Number       `json:"amount"`
		Currency        string            `json:"currency"`
		Metadata        map[string]string `json:"metadata"`
	}
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, apperror.Validation("payload", "invalid sumup event: %v", err)
	}

	checkoutID := raw.CheckoutID
	if checkoutID == "" {
		checkoutID = raw.ID
	}
	eventID := raw.EventID
	if eventID == "" && raw.ID != "" {
		eventID = strings.Join(nonEmpty(raw.ID, raw.EventType, strings.ToLower(raw.Status)), ":")
	}

	event := &WebhookEvent{
		Provider:          s.Name(),
		ID:                eventID,
		Type:              raw.EventType,
		ProviderPaymentID: checkoutID,
		CheckoutID:        checkoutID,
		TransactionCode:   raw.TransactionCode,
		Currency:          strings.ToUpper(raw.Currency),
		ProviderStatus:    raw.Status,
		Status:            SumUpTransactionStatus(raw.Status),
	}
	if raw.Amount != "" {
		amount, err := ParseMajor(raw.Amount.String())
		if err != nil {
			return nil, apperror.Validation("amount", "invalid sumup amount %q", raw.Amount)
		}
		event.AmountCents = amount
	}
	applyMetadata(event, raw.Metadata)
	return event, nil
}

// SumUpSessionStatus maps a SumUp checkout status onto a session status.
func SumUpSessionStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID", "SUCCESSFUL":
		return models.SumUpStatusSuccessful
	case "FAILED":
		return models.SumUpStatusFailed
	case "CANCELLED", "CANCELED", "EXPIRED":
		return models.SumUpStatusCancelled
	default:
		return models.SumUpStatusPending
	}
}

// SumUpTransactionStatus maps a SumUp checkout status onto a transaction
// status.
func SumUpTransactionStatus(status string) string {
	switch SumUpSessionStatus(status) {
	case models.SumUpStatusSuccessful:
		return models.TransactionStatusSucceeded
	case models.SumUpStatusFailed:
		return models.TransactionStatusFailed
	case models.SumUpStatusCancelled:
		return models.TransactionStatusCanceled
	default:
		if strings.TrimSpace(status) == "" {
			return ""
		}
		return models.TransactionStatusPending
	}
}

func (s *SumUpAdapter) send(ctx context.Context, operation, method, path string, payload any) ([]byte, int, error) {
	var reader *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	base := s.APIBaseURL
	if base == "" {
		base = defaultSumUpAPIBaseURL
	}
	var (
		req *http.Request
		err error
	)
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, nil)
	}
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := s.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}
	return do(client, s.Name(), operation, req)
}

func (s *SumUpAdapter) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SumUpAdapter) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
