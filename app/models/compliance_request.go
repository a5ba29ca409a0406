package models

import "time"

const (
	ComplianceTypeExport = "export"
	ComplianceTypeDelete = "delete"
)

const (
	ComplianceStatusQueued     = "queued"
	ComplianceStatusInProgress = "in_progress"
	ComplianceStatusCompleted  = "completed"
	ComplianceStatusRejected   = "rejected"
)

type ComplianceRequest struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID      string     `gorm:"type:varchar(36);not null;index:idx_compliance_requests_subject,priority:1" json:"tenantId"`
	SubjectID     string     `gorm:"type:varchar(36);not null;index:idx_compliance_requests_subject,priority:2" json:"subjectId"`
	RequestType   string     `gorm:"type:varchar(10);not null;index:idx_compliance_requests_subject,priority:3" json:"requestType"`
	Status        string     `gorm:"type:varchar(20);not null;index" json:"status"`
	InitiatedBy   string     `gorm:"type:varchar(191)" json:"initiatedBy,omitempty"`
	Reason        string     `gorm:"type:text" json:"reason,omitempty"`
	ExportURL     string     `gorm:"type:text" json:"exportUrl,omitempty"`
	FailureReason string     `gorm:"type:text" json:"failureReason,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}
