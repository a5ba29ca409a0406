package invoice

import (
	"time"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/validation"
)

type IssueInput struct {
	TenantID      string     `json:"tenantId" validate:"required"`
	OrderID       string     `json:"orderId" validate:"required"`
	Locale        string     `json:"locale,omitempty"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	SendEmail     bool       `json:"sendEmail,omitempty"`
	EmailOverride string     `json:"emailOverride,omitempty" validate:"omitempty,email"`
}

func (in IssueInput) Validate() error {
	return validation.Struct(in)
}

type LineItem struct {
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	VatRate        string `json:"vatRate,omitempty"`
}

type IssueResponse struct {
	InvoiceID     string           `json:"invoiceId"`
	InvoiceNumber string           `json:"invoiceNumber"`
	IssuedAt      time.Time        `json:"issuedAt"`
	DueDate       time.Time        `json:"dueDate"`
	TotalCents    int64            `json:"totalCents"`
	Currency      string           `json:"currency"`
	QRBillPayload string           `json:"qrBillPayload"`
	Reference     string           `json:"reference"`
	LineItems     []LineItem       `json:"lineItems"`
	VatSummary    []models.VatLine `json:"vatSummary"`
	Checksum      string           `json:"checksum"`
	Replayed      bool             `json:"-"`
}
