package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
)

// OrderRepository defines the interface for order-related database operations
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// TransitionStatus moves the order to target only when its current status
	// is one of allowedFrom. It reports whether a row changed.
	TransitionStatus(ctx context.Context, id, target string, allowedFrom []string) (bool, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	ListByCustomer(ctx context.Context, tenantID, customerID string) ([]models.Order, error)
}

// TransactionRepository defines the interface for payment transaction operations
type TransactionRepository interface {
	GetByID(ctx context.Context, id string) (*models.PaymentTransaction, error)
	FindByProviderPayment(ctx context.Context, provider, providerPaymentID string) (*models.PaymentTransaction, error)
	// Upsert inserts or updates by (provider, provider_payment_id) and reloads
	// the stored row into tx.
	Upsert(ctx context.Context, tx *models.PaymentTransaction) error
	UpdateStatus(ctx context.Context, id, status string) error
	// ReserveRefund adds amount to refunded_cents unless that would exceed
	// amount_cents. It reports whether the reservation was made.
	ReserveRefund(ctx context.Context, id string, amount int64) (bool, error)
	ReleaseRefund(ctx context.Context, id string, amount int64) error
	CreateRefund(ctx context.Context, refund *models.PaymentRefund) error
	ListRefunds(ctx context.Context, transactionID string) ([]models.PaymentRefund, error)
}

// AppointmentRepository defines the interface for appointment operations
type AppointmentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	// Confirm marks a pending appointment confirmed and reports whether a row
	// changed.
	Confirm(ctx context.Context, id string) (bool, error)
	ListByCustomer(ctx context.Context, tenantID, customerID string) ([]models.Appointment, error)
	// StripPersonalData clears notes and metadata on every appointment of the
	// customer and returns how many rows were touched.
	StripPersonalData(ctx context.Context, tenantID, customerID string) (int64, error)
}

// SumUpSessionRepository defines the interface for SumUp checkout sessions
type SumUpSessionRepository interface {
	Upsert(ctx context.Context, session *models.SumUpSession) error
	GetByCheckoutID(ctx context.Context, checkoutID string) (*models.SumUpSession, error)
	UpdateState(ctx context.Context, checkoutID string, update SumUpSessionUpdate) error
}

// SumUpSessionUpdate lists the session columns a status change may touch.
// Nil fields are left unchanged.
type SumUpSessionUpdate struct {
	Status       string
	Deeplink     *string
	Metadata     datatypes.JSONMap
	LastPolledAt *time.Time
}

// WebhookEventRepository defines the interface for inbound webhook events
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless (provider, event_id) exists
	// and returns the stored row either way.
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	// Reclaim bumps attempts and claimed_at when the row is still unprocessed
	// and attempts equals the value the caller observed.
	Reclaim(ctx context.Context, id uint, observedAttempts int, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, id uint, now time.Time) error
	MarkFailed(ctx context.Context, id uint, processingError string) error
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
}

// InvoiceRepository defines the interface for invoice operations
type InvoiceRepository interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.Invoice, error)
	GetArchive(ctx context.Context, invoiceID string) (*models.InvoiceArchive, error)
	// CurrentVatSetting returns the latest setting effective on day.
	CurrentVatSetting(ctx context.Context, tenantID string, day time.Time) (*models.VatSetting, error)
	MaxSequence(ctx context.Context, tenantID string, year int) (int, error)
	// Create writes the invoice, its items, the archive row and the audit
	// entry in one transaction.
	Create(ctx context.Context, inv *models.Invoice, archive *models.InvoiceArchive, entry *models.AuditLog) error
}

// ProfileRepository defines the interface for customer profiles
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	// Anonymise clears the personal columns and reports whether the profile
	// exists.
	Anonymise(ctx context.Context, tenantID, id string) (bool, error)
}

// ConsentRepository defines the interface for consent records
type ConsentRepository interface {
	Create(ctx context.Context, consent *models.Consent) error
	ListBySubject(ctx context.Context, tenantID, subjectID string) ([]models.Consent, error)
}

// ComplianceRepository defines the interface for GDPR requests
type ComplianceRepository interface {
	Create(ctx context.Context, req *models.ComplianceRequest) error
	GetByID(ctx context.Context, id string) (*models.ComplianceRequest, error)
	// FindOpen returns the newest queued or in-progress request.
	FindOpen(ctx context.Context, tenantID, subjectID, requestType string) (*models.ComplianceRequest, error)
	MarkInProgress(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, exportURL string, now time.Time) error
	MarkRejected(ctx context.Context, id, reason string) error
}

// ReminderRepository defines the interface for scheduled reminders
type ReminderRepository interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	GetByID(ctx context.Context, id string) (*models.Reminder, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	// Claim moves a scheduled reminder to processing. Only one caller can
	// win for a given reminder.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id, lastError string) error
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Reminder, error)
	// Release puts a reminder claimed before cutoff back to scheduled.
	Release(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Order        OrderRepository
	Transaction  TransactionRepository
	Appointment  AppointmentRepository
	SumUpSession SumUpSessionRepository
	WebhookEvent WebhookEventRepository
	Invoice      InvoiceRepository
	Profile      ProfileRepository
	Consent      ConsentRepository
	Compliance   ComplianceRepository
	Reminder     ReminderRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:        NewOrderRepository(db),
		Transaction:  NewTransactionRepository(db),
		Appointment:  NewAppointmentRepository(db),
		SumUpSession: NewSumUpSessionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Invoice:      NewInvoiceRepository(db),
		Profile:      NewProfileRepository(db),
		Consent:      NewConsentRepository(db),
		Compliance:   NewComplianceRepository(db),
		Reminder:     NewReminderRepository(db),
	}
}
