package repository

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
)

// profileRepository implements the ProfileRepository interface
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository instance
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("profile", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepository) Anonymise(ctx context.Context, tenantID, id string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"full_name": gorm.Expr("NULL"),
			"phone":     gorm.Expr("NULL"),
			"metadata":  datatypes.JSONMap{"anonymised": true},
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
