package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VatSetting is a tenant VAT rate in percent, valid from EffectiveFrom on.
type VatSetting struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TenantID      string          `gorm:"type:varchar(36);not null;index:idx_vat_settings_tenant_effective,priority:1" json:"tenantId"`
	Rate          decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"rate"`
	Label         string          `gorm:"type:varchar(100)" json:"label,omitempty"`
	EffectiveFrom time.Time       `gorm:"type:date;not null;index:idx_vat_settings_tenant_effective,priority:2" json:"effectiveFrom"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"createdAt"`
}
