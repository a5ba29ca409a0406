package invoice

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
)

// Address is a structured QR-bill address.
type Address struct {
	Name       string
	Street     string
	PostalCode string
	City       string
	Country    string
}

func (a Address) empty() bool {
	return a.Name == "" && a.Street == "" && a.PostalCode == "" && a.City == "" && a.Country == ""
}

// Creditor is the account holder printed on every invoice.
type Creditor struct {
	Address
	IBAN string
}

// CreditorFromEnv reads the billing identity. Every key is required.
func CreditorFromEnv(p env.Provider) (*Creditor, error) {
	c := &Creditor{}
	fields := []struct {
		key string
		dst *string
	}{
		{"BILLING_COMPANY_NAME", &c.Name},
		{"BILLING_COMPANY_ADDRESS", &c.Street},
		{"BILLING_COMPANY_POSTAL_CODE", &c.PostalCode},
		{"BILLING_COMPANY_CITY", &c.City},
		{"BILLING_COMPANY_COUNTRY", &c.Country},
		{"BILLING_IBAN", &c.IBAN},
	}
	for _, f := range fields {
		v, err := p.Require(f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = strings.TrimSpace(v)
	}
	c.IBAN = strings.ToUpper(strings.ReplaceAll(c.IBAN, " ", ""))
	return c, nil
}

// QRBill is the data encoded in a Swiss QR-bill.
type QRBill struct {
	Creditor    Creditor
	AmountCents int64
	Currency    string
	Debtor      *Address
	Reference   string
	Message     string
}

// Lines returns the SPC 0200 payload fields in order.
func (q QRBill) Lines() []string {
	lines := []string{"SPC", "0200", "1", q.Creditor.IBAN}
	lines = append(lines, addressLines(&q.Creditor.Address)...)
	// Ultimate creditor is reserved for future use and stays empty.
	lines = append(lines, "", "", "", "", "", "", "")
	lines = append(lines, providers.ToMajor(q.AmountCents).StringFixed(2), q.Currency)
	lines = append(lines, addressLines(q.Debtor)...)
	refType := "NON"
	if q.Reference != "" {
		refType = "SCOR"
	}
	lines = append(lines, refType, q.Reference, q.Message, "EPD")
	return lines
}

// Payload joins the lines with newlines and base64-encodes the result.
func (q QRBill) Payload() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(q.Lines(), "\n")))
}

func addressLines(a *Address) []string {
	if a == nil || a.empty() {
		return []string{"", "", "", "", "", "", ""}
	}
	// Structured address: street, building number, postal code, town, country.
	return []string{"S", a.Name, a.Street, "", a.PostalCode, a.City, a.Country}
}

// CreditorReference builds an ISO 11649 reference ("RF" + check digits +
// body) from an invoice number such as 2025-001.
func CreditorReference(invoiceNumber string) (string, error) {
	var body strings.Builder
	for _, r := range strings.ToUpper(invoiceNumber) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			body.WriteRune(r)
		}
	}
	if body.Len() == 0 || body.Len() > 21 {
		return "", apperror.Validation("invoiceNumber", "cannot derive a creditor reference from %q", invoiceNumber)
	}
	check := 98 - mod97(body.String()+"RF00")
	return fmt.Sprintf("RF%02d%s", check, body.String()), nil
}

// ValidCreditorReference reports whether ref carries correct check digits.
func ValidCreditorReference(ref string) bool {
	ref = strings.ToUpper(strings.ReplaceAll(ref, " ", ""))
	if len(ref) < 5 || !strings.HasPrefix(ref, "RF") {
		return false
	}
	return mod97(ref[4:]+ref[:4]) == 1
}

func mod97(s string) int64 {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			fmt.Fprintf(&digits, "%d", r-'A'+10)
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return -1
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64()
}
