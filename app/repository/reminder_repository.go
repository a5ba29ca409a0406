package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// reminderRepository implements the ReminderRepository interface
type reminderRepository struct {
	db *gorm.DB
}

// NewReminderRepository creates a new reminder repository instance
func NewReminderRepository(db *gorm.DB) ReminderRepository {
	return &reminderRepository{db: db}
}

func (r *reminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	return r.db.WithContext(ctx).Create(reminder).Error
}

func (r *reminderRepository) GetByID(ctx context.Context, id string) (*models.Reminder, error) {
	var rem models.Reminder
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rem).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("reminder", id)
	}
	if err != nil {
		return nil, err
	}
	return &rem, nil
}

func (r *reminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	var reminders []models.Reminder
	err := r.db.WithContext(ctx).
		Where("status = ? AND deliver_at <= ?", models.ReminderStatusScheduled, now).
		Order("deliver_at ASC").
		Limit(limit).
		Find(&reminders).Error
	return reminders, err
}

func (r *reminderRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ? AND status = ?", id, models.ReminderStatusScheduled).
		Updates(map[string]interface{}{
			"status":     models.ReminderStatusProcessing,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *reminderRepository) MarkSent(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ? AND status = ?", id, models.ReminderStatusProcessing).
		Updates(map[string]interface{}{
			"status":     models.ReminderStatusSent,
			"sent_at":    now,
			"last_error": "",
		}).Error
}

func (r *reminderRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ? AND status = ?", id, models.ReminderStatusProcessing).
		Updates(map[string]interface{}{
			"status":     models.ReminderStatusFailed,
			"last_error": lastError,
		}).Error
}

func (r *reminderRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.Reminder, error) {
	var reminders []models.Reminder
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", models.ReminderStatusProcessing, cutoff).
		Order("claimed_at ASC").
		Find(&reminders).Error
	return reminders, err
}

func (r *reminderRepository) Release(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id = ? AND status = ? AND claimed_at < ?", id, models.ReminderStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     models.ReminderStatusScheduled,
			"claimed_at": gorm.Expr("NULL"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
