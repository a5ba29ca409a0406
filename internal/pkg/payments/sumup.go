package payments

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

// CheckoutStatus polls SumUp for a checkout and stores what it reports on
// the local session.
func (s *Service) CheckoutStatus(ctx context.Context, checkoutID string) (*CheckoutStatusResponse, error) {
	if checkoutID == "" {
		return nil, apperror.Validation("checkoutId", "is required")
	}
	adapter, err := s.registry.Get(models.PaymentProviderSumUp)
	if err != nil {
		return nil, err
	}
	checker, ok := adapter.(providers.StatusChecker)
	if !ok {
		return nil, apperror.Validation("provider", "%s does not support status polling", adapter.Name())
	}

	st, err := checker.CheckoutStatus(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	update := repository.SumUpSessionUpdate{Status: st.Status, LastPolledAt: &now}
	if st.CheckoutURL != "" {
		update.Deeplink = &st.CheckoutURL
	}
	if err := s.repos.SumUpSession.UpdateState(ctx, checkoutID, update); err != nil {
		return nil, err
	}

	return &CheckoutStatusResponse{
		CheckoutID:   checkoutID,
		Status:       st.Status,
		AmountCents:  st.AmountCents,
		Currency:     st.Currency,
		LastPolledAt: now,
		Deeplink:     st.CheckoutURL,
	}, nil
}

// RecordManualPayment lets staff settle a SumUp checkout that completed on a
// terminal without a webhook reaching us.
func (s *Service) RecordManualPayment(ctx context.Context, in ManualPaymentInput) (*ManualPaymentResponse, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	res, replayed, err := idempotency.Execute(ctx, s.ledger, idempotency.Options{
		Key:      idempotency.ManualPaymentKey(in.CheckoutID),
		TTL:      idempotency.ManualPaymentTTL,
		TenantID: in.TenantID,
		Request:  in,
	}, func(ctx context.Context) (ManualPaymentResponse, error) {
		out, err := s.recordManualPayment(ctx, in)
		if err != nil {
			return ManualPaymentResponse{}, err
		}
		return *out, nil
	})
	if err != nil {
		return nil, err
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) recordManualPayment(ctx context.Context, in ManualPaymentInput) (*ManualPaymentResponse, error) {
	order, err := s.repos.Order.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.TenantID != in.TenantID {
		return nil, apperror.NotFound("order", in.OrderID)
	}

	session, err := s.repos.SumUpSession.GetByCheckoutID(ctx, in.CheckoutID)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, err
	}
	amount, currency := order.TotalCents, order.Currency
	if session != nil {
		if session.OrderID != in.OrderID {
			return nil, apperror.Validation("checkoutId", "belongs to another order")
		}
		amount, currency = session.AmountCents, session.Currency
		if err := s.repos.SumUpSession.UpdateState(ctx, in.CheckoutID, repository.SumUpSessionUpdate{
			Status:   models.SumUpStatusSuccessful,
			Metadata: datatypes.JSONMap{"manual": true, "notes": in.Notes},
		}); err != nil {
			return nil, err
		}
	}

	var existingMeta models.TransactionMetadata
	if existing, err := s.repos.Transaction.FindByProviderPayment(ctx, models.PaymentProviderSumUp, in.CheckoutID); err == nil {
		existingMeta = existing.Metadata.Data()
	} else if !apperror.IsNotFound(err) {
		return nil, err
	}
	existingMeta.Manual = true
	existingMeta.Notes = in.Notes

	txn := &models.PaymentTransaction{
		ID:                s.newID(),
		TenantID:          in.TenantID,
		OrderID:           in.OrderID,
		Provider:          models.PaymentProviderSumUp,
		ProviderPaymentID: in.CheckoutID,
		AmountCents:       amount,
		Currency:          currency,
		Status:            models.TransactionStatusSucceeded,
		Metadata:          datatypes.NewJSONType(existingMeta),
	}
	if err := s.repos.Transaction.Upsert(ctx, txn); err != nil {
		return nil, err
	}
	if _, err := s.transitionOrder(ctx, in.TenantID, in.OrderID, models.OrderStatusPaid, in.StaffID, models.InitiatedByStaff); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.Entry{
		TenantID:  in.TenantID,
		ActorID:   in.StaffID,
		ActorRole: models.InitiatedByStaff,
		Action:    audit.ActionPaymentManualRecorded,
		Resource:  in.OrderID,
		Changes:   map[string]any{"checkoutId": in.CheckoutID, "notes": in.Notes, "transactionId": txn.ID},
	}); err != nil {
		return nil, err
	}

	log.Infof("[Payments] manual SumUp payment recorded for checkout %s", in.CheckoutID)
	return &ManualPaymentResponse{OK: true, TransactionID: txn.ID, Status: txn.Status}, nil
}
