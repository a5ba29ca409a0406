package payments

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

// CreatePaymentIntent opens a payment with the requested provider. Retries
// with the same idempotency key replay the first successful response.
func (s *Service) CreatePaymentIntent(ctx context.Context, in IntentInput, idempotencyHeader string) (*IntentResponse, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.Currency = strings.ToUpper(in.Currency)
	if in.Provider == "" {
		in.Provider = models.PaymentProviderStripe
	}
	if in.Mode == "" {
		in.Mode = providers.ModePaymentIntent
	}
	adapter, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	key := idempotency.FromHeader("payment", idempotencyHeader, idempotency.PaymentKey(in.OrderID))
	res, replayed, err := idempotency.Execute(ctx, s.ledger, idempotency.Options{
		Key:      key,
		TTL:      idempotency.PaymentTTL,
		TenantID: in.TenantID,
		Request:  in,
	}, func(ctx context.Context) (IntentResponse, error) {
		out, err := s.createIntent(ctx, adapter, in, key)
		metrics.PaymentIntents.WithLabelValues(adapter.Name(), metrics.Outcome(err)).Inc()
		if err != nil {
			return IntentResponse{}, err
		}
		return *out, nil
	})
	if err != nil {
		return nil, err
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) createIntent(ctx context.Context, adapter providers.Adapter, in IntentInput, key string) (*IntentResponse, error) {
	order, err := s.repos.Order.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.TenantID != in.TenantID {
		return nil, apperror.NotFound("order", in.OrderID)
	}
	switch order.Status {
	case models.OrderStatusPaid, models.OrderStatusRefunded, models.OrderStatusCompleted:
		return nil, apperror.Conflict("order %s is already %s", order.ID, order.Status)
	}

	intent, err := adapter.CreateIntent(ctx, providers.IntentRequest{
		TenantID:       in.TenantID,
		OrderID:        in.OrderID,
		AppointmentID:  in.AppointmentID,
		AmountCents:    in.AmountCents,
		Currency:       in.Currency,
		CustomerEmail:  in.CustomerEmail,
		CustomerName:   in.CustomerName,
		Locale:         in.Locale,
		Mode:           in.Mode,
		IdempotencyKey: key,
		Metadata:       in.Metadata,
	})
	if err != nil {
		log.Errorf("[Payments] %s intent for order %s failed: %v", adapter.Name(), in.OrderID, err)
		return nil, err
	}

	if adapter.Name() == models.PaymentProviderSumUp {
		session := &models.SumUpSession{
			CheckoutID:  intent.ProviderID,
			TenantID:    in.TenantID,
			OrderID:     in.OrderID,
			Deeplink:    intent.CheckoutURL,
			Status:      models.SumUpStatusPending,
			AmountCents: in.AmountCents,
			Currency:    in.Currency,
			Metadata:    stringMap(in.Metadata),
		}
		if err := s.repos.SumUpSession.Upsert(ctx, session); err != nil {
			return nil, err
		}
	}

	txn := &models.PaymentTransaction{
		ID:                s.newID(),
		TenantID:          in.TenantID,
		OrderID:           in.OrderID,
		AppointmentID:     optional(in.AppointmentID),
		Provider:          adapter.Name(),
		ProviderPaymentID: intent.ProviderID,
		AmountCents:       in.AmountCents,
		Currency:          in.Currency,
		Status:            intent.Status,
		Metadata: datatypes.NewJSONType(models.TransactionMetadata{
			CustomerEmail:  in.CustomerEmail,
			Mode:           in.Mode,
			CheckoutURL:    intent.CheckoutURL,
			ProviderStatus: intent.ProviderStatus,
			Extras:         in.Metadata,
		}),
	}
	if err := s.repos.Transaction.Upsert(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.repos.Order.SetPaymentIntent(ctx, in.OrderID, intent.ProviderID); err != nil {
		return nil, err
	}
	if _, err := s.transitionOrder(ctx, in.TenantID, in.OrderID, models.OrderStatusPending, in.CustomerEmail, models.InitiatedByCustomer); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.Entry{
		TenantID:  in.TenantID,
		ActorID:   in.CustomerEmail,
		ActorRole: models.InitiatedByCustomer,
		Action:    audit.ActionPaymentIntentCreated,
		Resource:  in.OrderID,
		Changes: map[string]any{
			"provider":      adapter.Name(),
			"transactionId": txn.ID,
			"status":        intent.Status,
		},
	}); err != nil {
		return nil, err
	}

	log.Infof("[Payments] created %s intent %s for order %s", adapter.Name(), intent.ProviderID, in.OrderID)
	return &IntentResponse{
		Provider:      adapter.Name(),
		ClientSecret:  intent.ClientSecret,
		CheckoutURL:   intent.CheckoutURL,
		IntentID:      intent.ProviderID,
		TransactionID: txn.ID,
		Status:        intent.Status,
		AmountCents:   in.AmountCents,
		Currency:      in.Currency,
		NextAction:    intent.NextAction,
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringMap(in map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	return out
}
