package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// complianceRepository implements the ComplianceRepository interface
type complianceRepository struct {
	db *gorm.DB
}

// NewComplianceRepository creates a new compliance request repository instance
func NewComplianceRepository(db *gorm.DB) ComplianceRepository {
	return &complianceRepository{db: db}
}

func (r *complianceRepository) Create(ctx context.Context, req *models.ComplianceRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *complianceRepository) GetByID(ctx context.Context, id string) (*models.ComplianceRequest, error) {
	var req models.ComplianceRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("compliance request", id)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *complianceRepository) FindOpen(ctx context.Context, tenantID, subjectID, requestType string) (*models.ComplianceRequest, error) {
	var req models.ComplianceRequest
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subject_id = ? AND request_type = ? AND status IN ?", tenantID, subjectID, requestType,
			[]string{models.ComplianceStatusQueued, models.ComplianceStatusInProgress}).
		Order("created_at DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("compliance request", subjectID)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *complianceRepository) MarkInProgress(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.ComplianceRequest{}).
		Where("id = ? AND status = ?", id, models.ComplianceStatusQueued).
		Update("status", models.ComplianceStatusInProgress).Error
}

func (r *complianceRepository) MarkCompleted(ctx context.Context, id, exportURL string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.ComplianceRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.ComplianceStatusCompleted,
			"export_url":     exportURL,
			"failure_reason": "",
			"completed_at":   now,
		}).Error
}

func (r *complianceRepository) MarkRejected(ctx context.Context, id, reason string) error {
	return r.db.WithContext(ctx).Model(&models.ComplianceRequest{}).
		Where("id = ? AND status <> ?", id, models.ComplianceStatusCompleted).
		Updates(map[string]interface{}{
			"status":         models.ComplianceStatusRejected,
			"failure_reason": reason,
		}).Error
}
