package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
)

// HandleWebhook verifies, deduplicates and reconciles one provider webhook.
// An invalid signature is rejected before anything is stored. Once the event
// row exists the delivery is acknowledged, whatever reconciliation returns.
func (s *Service) HandleWebhook(ctx context.Context, provider string, rawBody []byte, signatureHeader string) (*WebhookAck, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	secret, err := adapter.WebhookSecret()
	if err != nil {
		return nil, err
	}
	if !adapter.VerifyWebhookSignature(rawBody, signatureHeader, secret) {
		metrics.WebhookEvents.WithLabelValues(adapter.Name(), "invalid_signature").Inc()
		log.Warnf("[Webhooks] rejected %s webhook with invalid signature", adapter.Name())
		return nil, apperror.Validation("signature", "invalid webhook signature")
	}

	event, err := adapter.ParseWebhookEvent(rawBody)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(adapter.Name(), "invalid_payload").Inc()
		return nil, err
	}
	event.ID = webhookEventID(event.ID, rawBody)

	stored, claimed, err := s.Claim(ctx, adapter.Name(), event.ID, event.Type, rawBody)
	if err != nil {
		return nil, err
	}
	ack := &WebhookAck{Received: true, EventID: event.ID}
	if !claimed {
		metrics.WebhookEvents.WithLabelValues(adapter.Name(), "duplicate").Inc()
		log.Infof("[Webhooks] duplicate %s event %s ignored", adapter.Name(), event.ID)
		ack.Duplicate = true
		ack.Processed = stored.ProcessedAt != nil
		return ack, nil
	}

	if err := s.Reconcile(ctx, event); err != nil {
		metrics.WebhookEvents.WithLabelValues(adapter.Name(), "failed").Inc()
		log.Errorf("[Webhooks] %s event %s failed: %v", adapter.Name(), event.ID, err)
		if markErr := s.repos.WebhookEvent.MarkFailed(ctx, stored.ID, err.Error()); markErr != nil {
			log.Errorf("[Webhooks] failed to record error for event %s: %v", event.ID, markErr)
		}
		if auditErr := s.audit.Record(ctx, audit.Entry{
			TenantID:  event.TenantID,
			ActorRole: models.InitiatedBySystem,
			Action:    audit.ActionWebhookProcessingFailed,
			Resource:  event.ID,
			Changes:   map[string]any{"provider": adapter.Name(), "type": event.Type, "error": err.Error()},
		}); auditErr != nil {
			log.Errorf("[Webhooks] failed to audit event %s: %v", event.ID, auditErr)
		}
		s.reporter.Capture(ctx, errorreport.Event{
			Err:      err,
			Route:    "payments.webhook." + adapter.Name(),
			TenantID: event.TenantID,
			Extra:    map[string]any{"eventId": event.ID, "eventType": event.Type},
		})
		return ack, nil
	}

	if err := s.repos.WebhookEvent.MarkProcessed(ctx, stored.ID, s.now()); err != nil {
		return nil, err
	}
	metrics.WebhookEvents.WithLabelValues(adapter.Name(), "processed").Inc()
	ack.Processed = true
	return ack, nil
}

// Claim records the event and decides whether this delivery should process
// it. A processed event, or one claimed inside the in-flight window without
// a recorded failure, is a duplicate. Failed and stale events are re-claimed
// with a compare-and-swap on the attempt counter so only one redelivery wins.
func (s *Service) Claim(ctx context.Context, provider, eventID, eventType string, payload []byte) (*models.WebhookEvent, bool, error) {
	now := s.now()
	row := &models.WebhookEvent{
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   string(payload),
		Attempts:  1,
		ClaimedAt: &now,
	}
	created, stored, err := s.repos.WebhookEvent.CreateIfNotExists(ctx, row)
	if err != nil {
		return nil, false, err
	}
	if created {
		return stored, true, nil
	}
	if stored.ProcessedAt != nil {
		return stored, false, nil
	}
	if stored.ProcessingError == "" && stored.ClaimedAt != nil && now.Sub(*stored.ClaimedAt) < s.inFlight {
		return stored, false, nil
	}

	ok, err := s.repos.WebhookEvent.Reclaim(ctx, stored.ID, stored.Attempts, now)
	if err != nil || !ok {
		return stored, false, err
	}
	stored.Attempts++
	stored.ClaimedAt = &now
	stored.ProcessingError = ""
	return stored, true, nil
}

// webhookEventID falls back to a payload hash when the provider sent no id.
func webhookEventID(id string, payload []byte) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// SignatureHeader names the header carrying the provider's webhook
// signature, or "" for an unknown provider.
func (s *Service) SignatureHeader(provider string) string {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return ""
	}
	return adapter.SignatureHeader()
}
