package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
)

// consentRepository implements the ConsentRepository interface
type consentRepository struct {
	db *gorm.DB
}

// NewConsentRepository creates a new consent repository instance
func NewConsentRepository(db *gorm.DB) ConsentRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) Create(ctx context.Context, consent *models.Consent) error {
	return r.db.WithContext(ctx).Create(consent).Error
}

func (r *consentRepository) ListBySubject(ctx context.Context, tenantID, subjectID string) ([]models.Consent, error) {
	var consents []models.Consent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subject_id = ?", tenantID, subjectID).
		Order("granted_at ASC").
		Find(&consents).Error
	return consents, err
}
