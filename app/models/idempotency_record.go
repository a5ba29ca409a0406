package models

import (
	"time"

	"gorm.io/datatypes"
)

// IdempotencyRecord holds the serialized result of the first successful
// execution of an operation. Rows are only written after success.
type IdempotencyRecord struct {
	Key         string         `gorm:"column:idempotency_key;type:varchar(191);primaryKey" json:"key"`
	TenantID    string         `gorm:"type:varchar(36);index" json:"tenantId,omitempty"`
	RequestHash string         `gorm:"type:varchar(64)" json:"requestHash,omitempty"`
	Response    datatypes.JSON `gorm:"not null" json:"response"`
	ExpiresAt   time.Time      `gorm:"not null;index" json:"expiresAt"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_keys"
}
