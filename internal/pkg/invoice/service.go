// Package invoice issues numbered, VAT-itemised invoices carrying a Swiss
// QR-bill payment reference.
package invoice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/mail"
	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
	"github.com/ManuelReschke/Plan5/internal/pkg/s3archive"
)

const (
	maxNumberAttempts = 5
	defaultDueAfter   = 30 * 24 * time.Hour
)

// ArchiveStore keeps a copy of the issued invoice document.
type ArchiveStore interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

type Service struct {
	repos    *repository.Repositories
	ledger   *idempotency.Ledger
	creditor *Creditor
	archive  ArchiveStore
	mailer   mail.Sender

	now   func() time.Time
	newID func() string
}

// NewService creates an invoice service. A nil creditor makes every Issue
// call fail with a ConfigurationError; a nil archive skips uploads.
func NewService(repos *repository.Repositories, ledger *idempotency.Ledger, creditor *Creditor, archive ArchiveStore, mailer mail.Sender) *Service {
	if mailer == nil {
		mailer = mail.DisabledSender{}
	}
	return &Service{
		repos:    repos,
		ledger:   ledger,
		creditor: creditor,
		archive:  archive,
		mailer:   mailer,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(newID func() string) *Service {
	s.newID = newID
	return s
}

// Issue creates the invoice for an order at most once. Later calls for the
// same order return the stored result.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*IssueResponse, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.creditor == nil {
		return nil, &apperror.ConfigurationError{Key: "BILLING_IBAN"}
	}
	if in.Locale == "" {
		in.Locale = mail.DefaultLocale
	}

	res, replayed, err := idempotency.Execute(ctx, s.ledger, idempotency.Options{
		Key:      idempotency.InvoiceKey(in.OrderID),
		TTL:      idempotency.ForeverTTL,
		TenantID: in.TenantID,
		Request:  in,
	}, func(ctx context.Context) (IssueResponse, error) {
		out, email, err := s.issue(ctx, in)
		if err != nil {
			return IssueResponse{}, err
		}
		s.notify(ctx, in, out, email)
		return *out, nil
	})
	if err != nil {
		return nil, err
	}
	res.Replayed = replayed
	return &res, nil
}

func (s *Service) issue(ctx context.Context, in IssueInput) (*IssueResponse, string, error) {
	order, err := s.repos.Order.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, "", err
	}
	if order.TenantID != in.TenantID {
		return nil, "", apperror.NotFound("order", in.OrderID)
	}
	billing := order.Metadata.Data()
	email := firstNonEmpty(in.EmailOverride, billing.BillingEmail)

	// A previous run may have committed the invoice and failed afterwards.
	if existing, err := s.repos.Invoice.GetByOrderID(ctx, order.ID); err == nil {
		out, err := s.responseFor(ctx, existing)
		return out, email, err
	} else if !apperror.IsNotFound(err) {
		return nil, "", err
	}

	now := s.now()
	rate := decimal.Zero
	if setting, err := s.repos.Invoice.CurrentVatSetting(ctx, in.TenantID, now); err == nil {
		rate = setting.Rate
	} else if !apperror.IsNotFound(err) {
		return nil, "", err
	}

	dueAt := now.Add(defaultDueAfter)
	if in.DueDate != nil {
		dueAt = in.DueDate.UTC()
	}
	debtor := s.debtor(ctx, order)

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		seq, err := s.repos.Invoice.MaxSequence(ctx, in.TenantID, now.Year())
		if err != nil {
			return nil, "", err
		}
		inv, archive, out, err := s.build(order, in, rate, debtor, now, dueAt, seq+1)
		if err != nil {
			return nil, "", err
		}
		row := audit.Row(audit.Entry{
			TenantID:  in.TenantID,
			ActorRole: models.InitiatedBySystem,
			Action:    audit.ActionInvoiceGenerated,
			Resource:  inv.ID,
			Changes:   map[string]any{"invoiceNumber": inv.InvoiceNumber, "orderId": order.ID},
		})

		err = s.repos.Invoice.Create(ctx, inv, archive, &row)
		if err == nil {
			metrics.InvoicesIssued.Inc()
			log.Infof("[Invoices] issued %s for order %s", inv.InvoiceNumber, order.ID)
			s.upload(ctx, archive.StoragePath, out)
			return out, email, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", err
		}
		if existing, lookupErr := s.repos.Invoice.GetByOrderID(ctx, order.ID); lookupErr == nil {
			out, err := s.responseFor(ctx, existing)
			return out, email, err
		}
		log.Warnf("[Invoices] number %s taken, retrying (%d/%d)", inv.InvoiceNumber, attempt, maxNumberAttempts)
	}
	return nil, "", apperror.Conflict("could not allocate an invoice number for tenant %s", in.TenantID)
}

func (s *Service) build(order *models.Order, in IssueInput, rate decimal.Decimal, debtor *Address, now, dueAt time.Time, seq int) (*models.Invoice, *models.InvoiceArchive, *IssueResponse, error) {
	number := fmt.Sprintf("%d-%03d", now.Year(), seq)
	reference, err := CreditorReference(number)
	if err != nil {
		return nil, nil, nil, err
	}
	payload := QRBill{
		Creditor:    *s.creditor,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		Debtor:      debtor,
		Reference:   reference,
		Message:     "Invoice " + number,
	}.Payload()

	inv := &models.Invoice{
		ID:            s.newID(),
		TenantID:      in.TenantID,
		OrderID:       order.ID,
		InvoiceNumber: number,
		Year:          now.Year(),
		Sequence:      seq,
		IssuedAt:      now,
		DueAt:         &dueAt,
		Currency:      order.Currency,
		TotalCents:    order.TotalCents,
		VatSummary:    datatypes.NewJSONType(VatSummary(order.TotalCents, rate)),
		QRBillPayload: payload,
		Metadata: datatypes.NewJSONType(models.InvoiceMetadata{
			Locale:        in.Locale,
			Reference:     reference,
			EmailOverride: in.EmailOverride,
		}),
	}
	if debtor != nil {
		meta := inv.Metadata.Data()
		meta.DebtorName = debtor.Name
		meta.DebtorEmail = order.Metadata.Data().BillingEmail
		inv.Metadata = datatypes.NewJSONType(meta)
	}
	for _, item := range order.Items {
		inv.Items = append(inv.Items, models.InvoiceItem{
			ID:             s.newID(),
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			VatRate:        rate,
		})
	}

	archive := &models.InvoiceArchive{
		ID:          s.newID(),
		InvoiceID:   inv.ID,
		StoragePath: s3archive.InvoiceKey(inv.ID),
		Checksum:    Checksum(number),
	}
	return inv, archive, toResponse(inv, archive.Checksum), nil
}

// debtor is nil when the customer has no profile.
func (s *Service) debtor(ctx context.Context, order *models.Order) *Address {
	if order.CustomerID == "" {
		return nil
	}
	profile, err := s.repos.Profile.GetByID(ctx, order.CustomerID)
	if err != nil {
		if !apperror.IsNotFound(err) {
			log.Warnf("[Invoices] profile lookup for order %s failed: %v", order.ID, err)
		}
		return nil
	}
	billing := order.Metadata.Data()
	name := billing.BillingName
	if name == "" && profile.FullName != nil {
		name = *profile.FullName
	}
	return &Address{
		Name:       firstNonEmpty(name, "Customer"),
		Street:     billing.BillingAddress,
		PostalCode: billing.BillingPostalCode,
		City:       billing.BillingCity,
		Country:    firstNonEmpty(billing.BillingCountry, "CH"),
	}
}

func (s *Service) responseFor(ctx context.Context, inv *models.Invoice) (*IssueResponse, error) {
	archive, err := s.repos.Invoice.GetArchive(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return toResponse(inv, archive.Checksum), nil
}

func (s *Service) upload(ctx context.Context, key string, out *IssueResponse) {
	if s.archive == nil {
		return
	}
	body, err := json.Marshal(out)
	if err != nil {
		log.Errorf("[Invoices] encode archive for %s: %v", out.InvoiceNumber, err)
		return
	}
	if _, err := s.archive.Put(ctx, key, body); err != nil {
		log.Errorf("[Invoices] archive upload for %s failed: %v", out.InvoiceNumber, err)
	}
}

// notify sends the invoice by email when asked to. Failures are logged
// because the invoice already exists.
func (s *Service) notify(ctx context.Context, in IssueInput, out *IssueResponse, to string) {
	if !in.SendEmail || to == "" {
		return
	}
	doc, err := json.Marshal(out)
	if err != nil {
		log.Errorf("[Invoices] encode attachment for %s: %v", out.InvoiceNumber, err)
		return
	}
	err = s.mailer.Send(ctx, mail.Message{
		To:       []string{to},
		Template: mail.TemplateInvoiceReady,
		Locale:   in.Locale,
		Data: map[string]any{
			"invoiceNumber": out.InvoiceNumber,
			"amount":        providers.ToMajor(out.TotalCents).StringFixed(2),
			"currency":      out.Currency,
			"dueDate":       out.DueDate.Format("2006-01-02"),
		},
		Attachments: []mail.Attachment{{
			Filename:    "invoice-" + out.InvoiceNumber + ".json",
			ContentType: "application/json",
			Content:     doc,
		}},
	})
	if err != nil {
		log.Errorf("[Invoices] email for %s failed: %v", out.InvoiceNumber, err)
	}
}

// Checksum is the hex sha256 of {"invoiceNumber":"..."}.
func Checksum(invoiceNumber string) string {
	raw, _ := json.Marshal(struct {
		InvoiceNumber string `json:"invoiceNumber"`
	}{invoiceNumber})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func toResponse(inv *models.Invoice, checksum string) *IssueResponse {
	out := &IssueResponse{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		IssuedAt:      inv.IssuedAt,
		TotalCents:    inv.TotalCents,
		Currency:      inv.Currency,
		QRBillPayload: inv.QRBillPayload,
		Reference:     inv.Metadata.Data().Reference,
		LineItems:     make([]LineItem, 0, len(inv.Items)),
		VatSummary:    inv.VatSummary.Data(),
		Checksum:      checksum,
	}
	if inv.DueAt != nil {
		out.DueDate = *inv.DueAt
	}
	for _, item := range inv.Items {
		line := LineItem{Description: item.Description, Quantity: item.Quantity, UnitPriceCents: item.UnitPriceCents}
		if item.VatRate.Sign() > 0 {
			line.VatRate = item.VatRate.String()
		}
		out.LineItems = append(out.LineItems, line)
	}
	if out.VatSummary == nil {
		out.VatSummary = []models.VatLine{}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
