package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// sumUpSessionRepository implements the SumUpSessionRepository interface
type sumUpSessionRepository struct {
	db *gorm.DB
}

// NewSumUpSessionRepository creates a new SumUp session repository instance
func NewSumUpSessionRepository(db *gorm.DB) SumUpSessionRepository {
	return &sumUpSessionRepository{db: db}
}

func (r *sumUpSessionRepository) Upsert(ctx context.Context, session *models.SumUpSession) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "checkout_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"deeplink",
			"status",
			"amount_cents",
			"currency",
			"metadata",
			"updated_at",
		}),
	}).Create(session).Error; err != nil {
		return err
	}
	return db.Where("checkout_id = ?", session.CheckoutID).First(session).Error
}

func (r *sumUpSessionRepository) GetByCheckoutID(ctx context.Context, checkoutID string) (*models.SumUpSession, error) {
	var s models.SumUpSession
	err := r.db.WithContext(ctx).Where("checkout_id = ?", checkoutID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("sumup session", checkoutID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sumUpSessionRepository) UpdateState(ctx context.Context, checkoutID string, update SumUpSessionUpdate) error {
	updates := map[string]interface{}{}
	if update.Status != "" {
		updates["status"] = update.Status
	}
	if update.Deeplink != nil {
		updates["deeplink"] = *update.Deeplink
	}
	if update.Metadata != nil {
		updates["metadata"] = update.Metadata
	}
	if update.LastPolledAt != nil {
		updates["last_polled_at"] = *update.LastPolledAt
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.SumUpSession{}).
		Where("checkout_id = ?", checkoutID).
		Updates(updates).Error
}
