package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := db.Where("provider = ? AND event_id = ?", event.Provider, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) Reclaim(ctx context.Context, id uint, observedAttempts int, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND attempts = ? AND processed_at IS NULL", id, observedAttempts).
		Updates(map[string]interface{}{
			"attempts":         observedAttempts + 1,
			"claimed_at":       now,
			"processing_error": "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, now time.Time) error {
	updates := map[string]interface{}{
		"processed_at":     now,
		"processing_error": "",
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *webhookEventRepository) MarkFailed(ctx context.Context, id uint, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processing_error", processingError).Error
}

func (r *webhookEventRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("webhook event", "")
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
