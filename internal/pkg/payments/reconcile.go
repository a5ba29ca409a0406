package payments

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

// Reconcile applies a normalized provider event: it upserts the transaction
// by its natural key, advances the order and confirms the linked
// appointment. Events without payment state are ignored.
func (s *Service) Reconcile(ctx context.Context, event *providers.WebhookEvent) error {
	if event.Status == "" || event.ProviderPaymentID == "" {
		log.Infof("[Webhooks] %s event %s (%s) carries no payment state", event.Provider, event.ID, event.Type)
		return nil
	}

	existing, err := s.findTransaction(ctx, event)
	if err != nil {
		return err
	}

	var session *models.SumUpSession
	if event.Provider == models.PaymentProviderSumUp && event.CheckoutID != "" {
		session, err = s.repos.SumUpSession.GetByCheckoutID(ctx, event.CheckoutID)
		if err != nil && !apperror.IsNotFound(err) {
			return err
		}
	}

	txn := s.resolveTransaction(event, existing, session)
	statusChanged := existing == nil || existing.Status != txn.Status
	if txn.OrderID == "" || txn.TenantID == "" {
		log.Warnf("[Webhooks] %s event %s references unknown payment %s", event.Provider, event.ID, event.ProviderPaymentID)
		return nil
	}
	if err := s.repos.Transaction.Upsert(ctx, txn); err != nil {
		return err
	}

	if session != nil && session.Status != models.SumUpStatusSuccessful {
		if err := s.repos.SumUpSession.UpdateState(ctx, session.CheckoutID, repository.SumUpSessionUpdate{
			Status: providers.SumUpSessionStatus(event.ProviderStatus),
		}); err != nil {
			return err
		}
	}

	switch txn.Status {
	case models.TransactionStatusSucceeded:
		if _, err := s.transitionOrder(ctx, txn.TenantID, txn.OrderID, models.OrderStatusPaid, "", models.InitiatedBySystem); err != nil {
			return err
		}
		if txn.AppointmentID != nil {
			if err := s.confirmAppointment(ctx, txn.TenantID, *txn.AppointmentID, txn.OrderID); err != nil {
				return err
			}
		}
		if event.Provider == models.PaymentProviderSumUp && statusChanged {
			if err := s.audit.Record(ctx, audit.Entry{
				TenantID:  txn.TenantID,
				ActorRole: models.InitiatedBySystem,
				Action:    audit.ActionPaymentSumUpCompleted,
				Resource:  txn.OrderID,
				Changes:   map[string]any{"transactionId": txn.ID},
			}); err != nil {
				return err
			}
		}
	case models.TransactionStatusRequiresAction, models.TransactionStatusCanceled, models.TransactionStatusFailed:
		if _, err := s.transitionOrder(ctx, txn.TenantID, txn.OrderID, models.OrderStatusPending, "", models.InitiatedBySystem); err != nil {
			return err
		}
		if event.Provider == models.PaymentProviderSumUp && statusChanged && txn.Status != models.TransactionStatusRequiresAction {
			if err := s.audit.Record(ctx, audit.Entry{
				TenantID:  txn.TenantID,
				ActorRole: models.InitiatedBySystem,
				Action:    audit.ActionPaymentSumUpFailed,
				Resource:  txn.OrderID,
				Changes:   map[string]any{"status": providers.SumUpSessionStatus(event.ProviderStatus)},
			}); err != nil {
				return err
			}
		}
	}

	log.Infof("[Webhooks] reconciled %s payment %s as %s", event.Provider, txn.ProviderPaymentID, txn.Status)
	return nil
}

// findTransaction looks the payment up by id, then by the references an
// event may carry instead.
func (s *Service) findTransaction(ctx context.Context, event *providers.WebhookEvent) (*models.PaymentTransaction, error) {
	seen := map[string]bool{}
	for _, ref := range []string{event.ProviderPaymentID, event.PaymentReference, event.CheckoutID} {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		txn, err := s.repos.Transaction.FindByProviderPayment(ctx, event.Provider, ref)
		if err == nil {
			return txn, nil
		}
		if !apperror.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Service) resolveTransaction(event *providers.WebhookEvent, existing *models.PaymentTransaction, session *models.SumUpSession) *models.PaymentTransaction {
	txn := &models.PaymentTransaction{
		ID:                s.newID(),
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderPaymentID,
		TenantID:          event.TenantID,
		OrderID:           event.OrderID,
		AppointmentID:     optional(event.AppointmentID),
		AmountCents:       event.AmountCents,
		Currency:          event.Currency,
		Status:            event.Status,
	}
	meta := models.TransactionMetadata{}

	if existing != nil {
		// Converge on the stored row even when the event names it differently.
		txn.ProviderPaymentID = existing.ProviderPaymentID
		txn.TenantID = firstNonEmpty(txn.TenantID, existing.TenantID)
		txn.OrderID = firstNonEmpty(txn.OrderID, existing.OrderID)
		if txn.AppointmentID == nil {
			txn.AppointmentID = existing.AppointmentID
		}
		if txn.AmountCents <= 0 {
			txn.AmountCents = existing.AmountCents
		}
		txn.Currency = firstNonEmpty(txn.Currency, existing.Currency)
		txn.Status = mergeStatus(existing.Status, event.Status)
		meta = existing.Metadata.Data()
	}
	if session != nil {
		txn.TenantID = firstNonEmpty(txn.TenantID, session.TenantID)
		txn.OrderID = firstNonEmpty(txn.OrderID, session.OrderID)
		if txn.AmountCents <= 0 {
			txn.AmountCents = session.AmountCents
		}
		txn.Currency = firstNonEmpty(txn.Currency, session.Currency)
	}

	meta.EventType = event.Type
	meta.ProviderStatus = event.ProviderStatus
	if event.TransactionCode != "" {
		meta.TransactionCode = event.TransactionCode
	}
	for k, v := range event.Extras {
		if meta.Extras == nil {
			meta.Extras = map[string]string{}
		}
		meta.Extras[k] = v
	}
	txn.Metadata = datatypes.NewJSONType(meta)
	return txn
}

// mergeStatus keeps settled states from regressing on late or reordered
// deliveries.
func mergeStatus(current, incoming string) string {
	switch current {
	case models.TransactionStatusRefunded:
		return current
	case models.TransactionStatusSucceeded:
		if incoming != models.TransactionStatusRefunded {
			return current
		}
	}
	return incoming
}

func (s *Service) confirmAppointment(ctx context.Context, tenantID, appointmentID, orderID string) error {
	changed, err := s.repos.Appointment.Confirm(ctx, appointmentID)
	if err != nil || !changed {
		return err
	}
	return s.audit.Record(ctx, audit.Entry{
		TenantID:  tenantID,
		ActorRole: models.InitiatedBySystem,
		Action:    audit.ActionAppointmentConfirmed,
		Resource:  appointmentID,
		Changes:   map[string]any{"status": models.AppointmentStatusConfirmed, "orderId": orderID},
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
