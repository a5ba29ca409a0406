// Package mail renders notification templates and delivers them through
// Resend, Postmark or plain SMTP.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

const (
	ProviderResend   = "resend"
	ProviderPostmark = "postmark"
	ProviderSMTP     = "smtp"
)

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          []string
	Cc          []string
	Bcc         []string
	Template    string
	Locale      string
	Subject     string
	Data        map[string]any
	Attachments []Attachment
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DisabledSender rejects every message with a ConfigurationError.
type DisabledSender struct{}

func (DisabledSender) Send(context.Context, Message) error {
	return &apperror.ConfigurationError{Key: "EMAIL_PROVIDER"}
}

// NewSenderFromEnv picks a provider from EMAIL_PROVIDER, or from whichever
// credentials are present when it is unset.
func NewSenderFromEnv(p env.Provider) (Sender, error) {
	from, err := p.Require("EMAIL_FROM_ADDRESS")
	if err != nil {
		return nil, err
	}

	provider := strings.ToLower(strings.TrimSpace(p.Optional("EMAIL_PROVIDER", "")))
	if provider == "" {
		switch {
		case p.Optional("RESEND_API_KEY", "") != "":
			provider = ProviderResend
		case p.Optional("POSTMARK_TOKEN", "") != "":
			provider = ProviderPostmark
		case p.Optional("SMTP_HOST", "") != "":
			provider = ProviderSMTP
		default:
			return nil, &apperror.ConfigurationError{Key: "EMAIL_PROVIDER"}
		}
	}

	switch provider {
	case ProviderResend:
		key, err := p.Require("RESEND_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewResendSender(key, from, p.Optional("RESEND_API_BASE_URL", "https://api.resend.com")), nil
	case ProviderPostmark:
		token, err := p.Require("POSTMARK_TOKEN")
		if err != nil {
			return nil, err
		}
		return NewPostmarkSender(token, from, p.Optional("POSTMARK_API_BASE_URL", "https://api.postmarkapp.com")), nil
	case ProviderSMTP:
		return NewSMTPSenderFromEnv(p, from)
	default:
		return nil, apperror.Validation("EMAIL_PROVIDER", "unknown provider %q", provider)
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &apperror.ProviderError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperror.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}

func validateMessage(msg Message) error {
	if len(msg.To) == 0 {
		return apperror.Validation("to", "at least one recipient is required")
	}
	for _, to := range msg.To {
		if strings.TrimSpace(to) == "" {
			return apperror.Validation("to", "recipient must not be blank")
		}
	}
	if msg.Template == "" && msg.Subject == "" {
		return fmt.Errorf("mail: template or subject is required")
	}
	return nil
}
