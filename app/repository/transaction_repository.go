package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new payment transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("transaction", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) FindByProviderPayment(ctx context.Context, provider, providerPaymentID string) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("transaction", provider+":"+providerPaymentID)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) Upsert(ctx context.Context, t *models.PaymentTransaction) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_payment_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount_cents",
			"currency",
			"status",
			"metadata",
			"updated_at",
		}),
	}).Create(t).Error; err != nil {
		return err
	}

	// On conflict the stored row keeps its own id; read into a fresh struct
	// so the generated id of t does not end up in the WHERE clause.
	var stored models.PaymentTransaction
	if err := db.Where("provider = ? AND provider_payment_id = ?", t.Provider, t.ProviderPaymentID).
		First(&stored).Error; err != nil {
		return err
	}
	*t = stored
	return nil
}

func (r *transactionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *transactionRepository) ReserveRefund(ctx context.Context, id string, amount int64) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND refunded_cents + ? <= amount_cents", id, amount).
		Update("refunded_cents", gorm.Expr("refunded_cents + ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *transactionRepository) ReleaseRefund(ctx context.Context, id string, amount int64) error {
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).
		Where("id = ? AND refunded_cents >= ?", id, amount).
		Update("refunded_cents", gorm.Expr("refunded_cents - ?", amount)).Error
}

func (r *transactionRepository) CreateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *transactionRepository) ListRefunds(ctx context.Context, transactionID string) ([]models.PaymentRefund, error) {
	var refunds []models.PaymentRefund
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("created_at ASC").Find(&refunds).Error
	return refunds, err
}
