// Package audit appends state change records to the audit_logs table.
package audit

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
)

const (
	ActionOrderStatusUpdated       = "order.status_updated"
	ActionPaymentIntentCreated     = "payment.intent.created"
	ActionPaymentRefundCreated     = "payment.refund.created"
	ActionPaymentSumUpCompleted    = "payment.sumup.completed"
	ActionPaymentSumUpFailed       = "payment.sumup.failed"
	ActionPaymentManualRecorded    = "payment.sumup.manual_recorded"
	ActionWebhookProcessingFailed  = "payment.webhook.failed"
	ActionAppointmentConfirmed     = "appointment.confirmed"
	ActionInvoiceGenerated         = "invoice.generated"
	ActionComplianceExportComplete = "compliance.export.completed"
	ActionComplianceDeleteComplete = "compliance.delete.completed"
	ActionComplianceRejected       = "compliance.request.rejected"
	ActionConsentUpdated           = "consent.updated"
	ActionReminderSent             = "reminder.sent"
	ActionReminderFailed           = "reminder.failed"
	ActionReminderRecovered        = "reminder.recovered"
)

// Entry describes one state changing action.
type Entry struct {
	TenantID  string
	ActorID   string
	ActorRole string
	Action    string
	Resource  string
	Changes   map[string]any
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type GormRecorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (r *GormRecorder) Record(ctx context.Context, entry Entry) error {
	row := Row(entry)
	return r.db.WithContext(ctx).Create(&row).Error
}

// Row converts an entry into the stored form, for callers that insert it
// inside their own transaction.
func Row(entry Entry) models.AuditLog {
	changes := datatypes.JSONMap{}
	for k, v := range entry.Changes {
		changes[k] = v
	}
	return models.AuditLog{
		TenantID:  entry.TenantID,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Changes:   changes,
		CreatedAt: time.Now().UTC(),
	}
}

// List returns entries for a resource, oldest first.
func (r *GormRecorder) List(ctx context.Context, resource string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.WithContext(ctx).Where("resource = ?", resource).Order("id ASC").Find(&rows).Error
	return rows, err
}

// CountByAction returns how many entries exist for a resource and action.
func (r *GormRecorder) CountByAction(ctx context.Context, resource, action string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("resource = ? AND action = ?", resource, action).
		Count(&n).Error
	return n, err
}
