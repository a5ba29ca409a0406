package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvoiceImmutable = errors.New("issued invoices cannot be changed")

// VatLine is one entry of an invoice VAT summary.
type VatLine struct {
	Rate        string `json:"rate"`
	AmountCents int64  `json:"amountCents"`
	NetCents    int64  `json:"netCents"`
}

type InvoiceMetadata struct {
	Locale        string `json:"locale,omitempty"`
	Reference     string `json:"reference,omitempty"`
	DebtorName    string `json:"debtorName,omitempty"`
	DebtorEmail   string `json:"debtorEmail,omitempty"`
	EmailOverride string `json:"emailOverride,omitempty"`
}

// Invoice is numbered per tenant and calendar year. Rows are immutable once
// inserted; the archive checksum is the tamper evidence.
type Invoice struct {
	ID            string                              `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID      string                              `gorm:"type:varchar(36);not null;index:ux_invoices_tenant_number,unique,priority:1;index:idx_invoices_tenant_year,priority:1" json:"tenantId"`
	OrderID       string                              `gorm:"type:varchar(36);not null;uniqueIndex" json:"orderId"`
	InvoiceNumber string                              `gorm:"type:varchar(20);not null;index:ux_invoices_tenant_number,unique,priority:2" json:"invoiceNumber"`
	Year          int                                 `gorm:"not null;index:idx_invoices_tenant_year,priority:2" json:"year"`
	Sequence      int                                 `gorm:"not null" json:"sequence"`
	IssuedAt      time.Time                           `gorm:"not null" json:"issuedAt"`
	DueAt         *time.Time                          `json:"dueAt,omitempty"`
	Currency      string                              `gorm:"type:varchar(3);not null" json:"currency"`
	TotalCents    int64                               `gorm:"not null" json:"totalCents"`
	VatSummary    datatypes.JSONType[[]VatLine]       `json:"vatSummary"`
	QRBillPayload string                              `gorm:"type:text;not null" json:"qrBillPayload"`
	Metadata      datatypes.JSONType[InvoiceMetadata] `json:"metadata"`
	Items         []InvoiceItem                       `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`
	CreatedAt     time.Time                           `gorm:"autoCreateTime" json:"createdAt"`
}

func (i *Invoice) BeforeUpdate(tx *gorm.DB) error {
	return ErrInvoiceImmutable
}

func (i *Invoice) BeforeDelete(tx *gorm.DB) error {
	return ErrInvoiceImmutable
}

type InvoiceItem struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	InvoiceID      string          `gorm:"type:varchar(36);not null;index" json:"invoiceId"`
	Description    string          `gorm:"type:varchar(255);not null" json:"description"`
	Quantity       int             `gorm:"not null" json:"quantity"`
	UnitPriceCents int64           `gorm:"not null" json:"unitPriceCents"`
	VatRate        decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vatRate"`
}

type InvoiceArchive struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	InvoiceID   string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"invoiceId"`
	StoragePath string    `gorm:"type:varchar(255);not null" json:"storagePath"`
	Checksum    string    `gorm:"type:char(64);not null" json:"checksum"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}
