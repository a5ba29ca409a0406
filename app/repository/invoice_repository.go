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

// invoiceRepository implements the InvoiceRepository interface
type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository instance
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.WithContext(ctx).Preload("Items").Where("order_id = ?", orderID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("invoice", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepository) GetArchive(ctx context.Context, invoiceID string) (*models.InvoiceArchive, error) {
	var a models.InvoiceArchive
	err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("invoice archive", invoiceID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *invoiceRepository) CurrentVatSetting(ctx context.Context, tenantID string, day time.Time) (*models.VatSetting, error) {
	var v models.VatSetting
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND effective_from <= ?", tenantID, day).
		Order("effective_from DESC").
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("vat setting", tenantID)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *invoiceRepository) MaxSequence(ctx context.Context, tenantID string, year int) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Select("MAX(sequence)").
		Where("tenant_id = ? AND year = ?", tenantID, year).
		Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

func (r *invoiceRepository) Create(ctx context.Context, inv *models.Invoice, archive *models.InvoiceArchive, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(inv).Error; err != nil {
			return err
		}
		for i := range inv.Items {
			inv.Items[i].InvoiceID = inv.ID
		}
		if len(inv.Items) > 0 {
			if err := tx.Create(&inv.Items).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(archive).Error; err != nil {
			return err
		}
		if entry != nil {
			return tx.Create(entry).Error
		}
		return nil
	})
}
