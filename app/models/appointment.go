package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusCancelled = "cancelled"
)

type Appointment struct {
	ID         string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID   string            `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	CustomerID string            `gorm:"type:varchar(36);not null;index" json:"customerId"`
	ServiceID  string            `gorm:"type:varchar(36);index" json:"serviceId,omitempty"`
	Status     string            `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	StartAt    time.Time         `gorm:"not null" json:"startAt"`
	EndAt      time.Time         `gorm:"not null" json:"endAt"`
	Notes      *string           `gorm:"type:text" json:"notes"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}
