package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrAuditLogImmutable = errors.New("audit log entries are append-only")

type AuditLog struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	TenantID  string            `gorm:"type:varchar(36);index" json:"tenantId"`
	ActorID   string            `gorm:"type:varchar(191)" json:"actorId,omitempty"`
	ActorRole string            `gorm:"type:varchar(20)" json:"actorRole,omitempty"`
	Action    string            `gorm:"type:varchar(100);not null;index" json:"action"`
	Resource  string            `gorm:"type:varchar(191);not null;index" json:"resource"`
	Changes   datatypes.JSONMap `json:"changes"`
	CreatedAt time.Time         `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditLogImmutable
}
