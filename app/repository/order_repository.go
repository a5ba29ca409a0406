package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) TransitionStatus(ctx context.Context, id, target string, allowedFrom []string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, allowedFrom).
		Update("status", target)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *orderRepository) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Update("payment_intent_id", intentID).Error
}

func (r *orderRepository) ListByCustomer(ctx context.Context, tenantID, customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).Preload("Items").
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}
