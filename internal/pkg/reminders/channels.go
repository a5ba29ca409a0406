package reminders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/mail"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
)

// Channel delivers a claimed reminder.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, reminder *models.Reminder) error
}

type EmailChannel struct {
	sender mail.Sender
}

func NewEmailChannel(sender mail.Sender) *EmailChannel {
	return &EmailChannel{sender: sender}
}

func (c *EmailChannel) Name() string { return models.ReminderChannelEmail }

func (c *EmailChannel) Deliver(ctx context.Context, reminder *models.Reminder) error {
	payload := reminder.Payload.Data()
	if payload.To == "" {
		return errors.New("email reminder has no recipient")
	}
	template := reminder.Template
	if template == "" {
		template = mail.TemplateReminderUpcoming
	}
	locale := payload.Locale
	if locale == "" {
		locale = mail.DefaultLocale
	}
	data := map[string]any{
		"resourceType": reminder.ResourceType,
		"resourceId":   reminder.ResourceID,
	}
	for k, v := range payload.Data {
		data[k] = v
	}
	return c.sender.Send(ctx, mail.Message{
		To:       []string{payload.To},
		Template: template,
		Locale:   locale,
		Data:     data,
	})
}

// WebhookChannel posts the reminder as JSON and treats any non-2xx answer
// as a failed delivery.
type WebhookChannel struct {
	client *http.Client
}

func NewWebhookChannel(client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{client: client}
}

func (c *WebhookChannel) Name() string { return models.ReminderChannelWebhook }

type webhookBody struct {
	ReminderID   string         `json:"reminderId"`
	TenantID     string         `json:"tenantId"`
	ResourceType string         `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	Template     string         `json:"template,omitempty"`
	DeliverAt    time.Time      `json:"deliverAt"`
	Data         map[string]any `json:"data,omitempty"`
}

func (c *WebhookChannel) Deliver(ctx context.Context, reminder *models.Reminder) error {
	payload := reminder.Payload.Data()
	if payload.WebhookURL == "" {
		return errors.New("webhook reminder has no webhookUrl")
	}
	body, err := json.Marshal(webhookBody{
		ReminderID:   reminder.ID,
		TenantID:     reminder.TenantID,
		ResourceType: reminder.ResourceType,
		ResourceID:   reminder.ResourceID,
		Template:     reminder.Template,
		DeliverAt:    reminder.DeliverAt,
		Data:         payload.Data,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues("webhook", "reminder").Observe(time.Since(start).Seconds())
	if err != nil {
		return &apperror.ProviderError{Provider: "webhook", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apperror.ProviderError{Provider: "webhook", StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
