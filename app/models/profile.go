package models

import (
	"time"

	"gorm.io/datatypes"
)

// Profile is the personal record of a customer. FullName and Phone are
// cleared on anonymisation.
type Profile struct {
	ID        string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID  string            `gorm:"type:varchar(36);not null;index" json:"tenantId"`
	FullName  *string           `gorm:"type:varchar(255)" json:"fullName"`
	Phone     *string           `gorm:"type:varchar(50)" json:"phone"`
	Email     string            `gorm:"type:varchar(191);index" json:"email,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
}
