package repository

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// appointmentRepository implements the AppointmentRepository interface
type appointmentRepository struct {
	db *gorm.DB
}

// NewAppointmentRepository creates a new appointment repository instance
func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	var a models.Appointment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("appointment", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepository) Confirm(ctx context.Context, id string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, models.AppointmentStatusPending).
		Update("status", models.AppointmentStatusConfirmed)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *appointmentRepository) ListByCustomer(ctx context.Context, tenantID, customerID string) ([]models.Appointment, error) {
	var appointments []models.Appointment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("start_at ASC").
		Find(&appointments).Error
	return appointments, err
}

func (r *appointmentRepository) StripPersonalData(ctx context.Context, tenantID, customerID string) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Updates(map[string]interface{}{
			"notes":    gorm.Expr("NULL"),
			"metadata": datatypes.JSONMap{},
		})
	return tx.RowsAffected, tx.Error
}
