package payments

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

// Refund returns money for a captured transaction. The amount is checked
// and reserved against the remaining refundable amount before the provider
// is called, so concurrent refunds can never exceed the captured total.
func (s *Service) Refund(ctx context.Context, in RefundInput, idempotencyHeader string) (*RefundResponse, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	key := idempotency.FromHeader("refund", idempotencyHeader, idempotency.RefundKey(in.TransactionID, in.AmountCents))
	res, replayed, err := idempotency.Execute(ctx, s.ledger, idempotency.Options{
		Key:      key,
		TTL:      idempotency.RefundTTL,
		TenantID: in.TenantID,
		Request:  in,
	}, func(ctx context.Context) (RefundResponse, error) {
		out, err := s.refund(ctx, in, key)
		if err != nil {
			return RefundResponse{}, err
		}
		return *out, nil
	})
	if err != nil {
		return nil, err
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) refund(ctx context.Context, in RefundInput, key string) (*RefundResponse, error) {
	txn, err := s.repos.Transaction.GetByID(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.TenantID != in.TenantID {
		return nil, apperror.NotFound("transaction", in.TransactionID)
	}
	if txn.OrderID != in.OrderID {
		return nil, apperror.Validation("orderId", "does not match transaction %s", txn.ID)
	}
	if txn.Status != models.TransactionStatusSucceeded && txn.Status != models.TransactionStatusRefunded {
		return nil, apperror.Validation("transactionId", "transaction is %s and cannot be refunded", txn.Status)
	}

	refundable := txn.RefundableCents()
	amount := refundable
	if in.AmountCents != nil {
		amount = *in.AmountCents
	}
	if amount <= 0 {
		return nil, apperror.Validation("amountCents", "nothing left to refund")
	}
	if amount > refundable {
		return nil, apperror.Validation("amountCents", "exceeds refundable amount %d", refundable)
	}

	adapter, err := s.registry.Get(txn.Provider)
	if err != nil {
		return nil, err
	}

	reserved, err := s.repos.Transaction.ReserveRefund(ctx, txn.ID, amount)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, apperror.Conflict("a concurrent refund already claimed the remaining amount of transaction %s", txn.ID)
	}

	result, err := adapter.Refund(ctx, providers.RefundRequest{
		ProviderPaymentID: txn.ProviderPaymentID,
		TransactionCode:   txn.Metadata.Data().TransactionCode,
		AmountCents:       amount,
		Currency:          txn.Currency,
		Reason:            in.Reason,
		IdempotencyKey:    key,
	})
	metrics.Refunds.WithLabelValues(txn.Provider, metrics.Outcome(err)).Inc()
	if err != nil {
		s.releaseRefund(ctx, txn.ID, amount)
		log.Errorf("[Payments] %s refund for transaction %s failed: %v", txn.Provider, txn.ID, err)
		return nil, err
	}

	refund := &models.PaymentRefund{
		ID:               s.newID(),
		TransactionID:    txn.ID,
		OrderID:          txn.OrderID,
		ProviderRefundID: result.ProviderRefundID,
		AmountCents:      amount,
		Status:           result.Status,
		Reason:           in.Reason,
		InitiatedBy:      in.InitiatedBy,
	}
	// The provider has already moved the money: recording failures are
	// reported, not returned, so the ledger keeps the result for retries.
	if err := s.recordRefund(ctx, in, txn, refund); err != nil {
		log.Errorf("[Payments] refund %s of %d for transaction %s succeeded at %s but was not fully recorded: %v",
			refund.ID, amount, txn.ID, txn.Provider, err)
		s.reporter.Capture(ctx, errorreport.Event{
			Err:      err,
			Route:    "payments.refund." + txn.Provider,
			TenantID: in.TenantID,
			Extra: map[string]any{
				"refundId":         refund.ID,
				"providerRefundId": refund.ProviderRefundID,
				"transactionId":    txn.ID,
				"amountCents":      amount,
			},
		})
	}

	log.Infof("[Payments] refund %s of %d for transaction %s is %s", refund.ID, amount, txn.ID, refund.Status)
	return &RefundResponse{
		RefundID:         refund.ID,
		ProviderRefundID: refund.ProviderRefundID,
		Status:           refund.Status,
		AmountCents:      amount,
		Currency:         txn.Currency,
		Provider:         txn.Provider,
	}, nil
}

// recordRefund persists a refund the provider has accepted or declined and
// moves the transaction and order along with it.
func (s *Service) recordRefund(ctx context.Context, in RefundInput, txn *models.PaymentTransaction, refund *models.PaymentRefund) error {
	if err := s.repos.Transaction.CreateRefund(ctx, refund); err != nil {
		return err
	}

	if refund.Status == models.RefundStatusFailed {
		s.releaseRefund(ctx, txn.ID, refund.AmountCents)
	} else {
		if err := s.repos.Transaction.UpdateStatus(ctx, txn.ID, models.TransactionStatusRefunded); err != nil {
			return err
		}
		if _, err := s.transitionOrder(ctx, in.TenantID, txn.OrderID, models.OrderStatusRefunded, in.ActorID, in.InitiatedBy); err != nil {
			return err
		}
	}

	return s.audit.Record(ctx, audit.Entry{
		TenantID:  in.TenantID,
		ActorID:   in.ActorID,
		ActorRole: in.InitiatedBy,
		Action:    audit.ActionPaymentRefundCreated,
		Resource:  txn.OrderID,
		Changes: map[string]any{
			"refundId":      refund.ID,
			"transactionId": txn.ID,
			"status":        refund.Status,
			"amountCents":   refund.AmountCents,
		},
	})
}

func (s *Service) releaseRefund(ctx context.Context, transactionID string, amount int64) {
	if err := s.repos.Transaction.ReleaseRefund(ctx, transactionID, amount); err != nil {
		log.Errorf("[Payments] failed to release refund reservation of %d on %s: %v", amount, transactionID, err)
	}
}
