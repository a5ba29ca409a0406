package models

import (
	"time"

	"gorm.io/datatypes"
)

type Consent struct {
	ID          string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID    string            `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	SubjectID   string            `gorm:"type:varchar(36);not null;index" json:"subjectId"`
	ConsentType string            `gorm:"type:varchar(50);not null" json:"consentType"`
	Granted     bool              `gorm:"not null" json:"granted"`
	GrantedAt   time.Time         `gorm:"not null" json:"grantedAt"`
	RevokedAt   *time.Time        `json:"revokedAt,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"createdAt"`
}
