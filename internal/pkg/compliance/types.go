package compliance

import (
	"time"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/validation"
)

type Input struct {
	TenantID    string `json:"tenantId" validate:"required"`
	SubjectID   string `json:"subjectId" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=export delete"`
	InitiatedBy string `json:"initiatedBy,omitempty" validate:"omitempty,oneof=customer staff system"`
	Reason      string `json:"reason,omitempty"`
}

func (in Input) Validate() error {
	return validation.Struct(in)
}

type Result struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	ExportURL string `json:"exportUrl,omitempty"`
	Replayed  bool   `json:"-"`
}

type ConsentInput struct {
	TenantID    string         `json:"tenantId" validate:"required"`
	SubjectID   string         `json:"subjectId" validate:"required"`
	ConsentType string         `json:"consentType" validate:"required,max=50"`
	Granted     bool           `json:"granted"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (in ConsentInput) Validate() error {
	return validation.Struct(in)
}

type StatusResponse struct {
	RequestID   string     `json:"requestId"`
	Status      string     `json:"status"`
	ExportURL   string     `json:"exportUrl,omitempty"`
	CompletedAt *time.Time `json:"completedAt"`
}

// Export is the document handed to the data subject.
type Export struct {
	Orders       []ExportOrder       `json:"orders"`
	Appointments []ExportAppointment `json:"appointments"`
	Consents     []ExportConsent     `json:"consents"`
	GeneratedAt  time.Time           `json:"generatedAt"`
}

type ExportOrder struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"totalCents"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ExportAppointment struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
	ServiceID string    `json:"serviceId,omitempty"`
}

type ExportConsent struct {
	ConsentType string         `json:"consentType"`
	Granted     bool           `json:"granted"`
	GrantedAt   time.Time      `json:"grantedAt"`
	RevokedAt   *time.Time     `json:"revokedAt,omitempty"`
	Metadata    map[string]any `json:"metadata"`
}

func exportOrders(rows []models.Order) []ExportOrder {
	out := make([]ExportOrder, 0, len(rows))
	for _, o := range rows {
		out = append(out, ExportOrder{ID: o.ID, Status: o.Status, TotalCents: o.TotalCents, Currency: o.Currency, CreatedAt: o.CreatedAt})
	}
	return out
}

func exportAppointments(rows []models.Appointment) []ExportAppointment {
	out := make([]ExportAppointment, 0, len(rows))
	for _, a := range rows {
		out = append(out, ExportAppointment{ID: a.ID, Status: a.Status, StartAt: a.StartAt, EndAt: a.EndAt, ServiceID: a.ServiceID})
	}
	return out
}

func exportConsents(rows []models.Consent) []ExportConsent {
	out := make([]ExportConsent, 0, len(rows))
	for _, c := range rows {
		meta := map[string]any{}
		for k, v := range c.Metadata {
			meta[k] = v
		}
		out = append(out, ExportConsent{ConsentType: c.ConsentType, Granted: c.Granted, GrantedAt: c.GrantedAt, RevokedAt: c.RevokedAt, Metadata: meta})
	}
	return out
}
