package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/Plan5/app/models"
)

// Record is a stored operation result.
type Record struct {
	Key         string
	TenantID    string
	RequestHash string
	Response    []byte
	ExpiresAt   time.Time
}

// Store persists idempotency records.
//
// Get returns nil without error when no live record exists. Save keeps the
// first record written for a key and returns whatever is stored after the
// write; created is false when that record belongs to a concurrent caller.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (*Record, error)
	Save(ctx context.Context, rec Record, now time.Time) (stored *Record, created bool, err error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store backed by the idempotency_keys table.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, key string, now time.Time) (*Record, error) {
	var row models.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("idempotency_key = ? AND expires_at > ?", key, now).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toRecord(&row), nil
}

func (s *GormStore) Save(ctx context.Context, rec Record, now time.Time) (*Record, bool, error) {
	db := s.db.WithContext(ctx)

	// An expired row would otherwise block the key forever.
	if err := db.Where("idempotency_key = ? AND expires_at <= ?", rec.Key, now).
		Delete(&models.IdempotencyRecord{}).Error; err != nil {
		return nil, false, err
	}

	row := models.IdempotencyRecord{
		Key:         rec.Key,
		TenantID:    rec.TenantID,
		RequestHash: rec.RequestHash,
		Response:    rec.Response,
		ExpiresAt:   rec.ExpiresAt,
	}
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&row)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	created := tx.RowsAffected > 0

	var stored models.IdempotencyRecord
	if err := db.Where("idempotency_key = ?", rec.Key).First(&stored).Error; err != nil {
		return nil, false, err
	}
	return toRecord(&stored), created, nil
}

func (s *GormStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.IdempotencyRecord{})
	return tx.RowsAffected, tx.Error
}

func toRecord(row *models.IdempotencyRecord) *Record {
	return &Record{
		Key:         row.Key,
		TenantID:    row.TenantID,
		RequestHash: row.RequestHash,
		Response:    []byte(row.Response),
		ExpiresAt:   row.ExpiresAt,
	}
}
