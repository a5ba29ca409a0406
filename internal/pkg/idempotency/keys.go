package idempotency

import (
	"strconv"
	"strings"
)

// HeaderName carries a caller supplied key.
const HeaderName = "Idempotency-Key"

// FromHeader scopes a caller supplied key to an operation, or returns the
// derived fallback when the header is blank. Scoping keeps a client that
// reuses one header value across different operations from replaying a
// result of the wrong shape.
func FromHeader(scope, header, fallback string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return fallback
	}
	return scope + ":key:" + header
}

func PaymentKey(orderID string) string {
	return "payment:" + orderID
}

func InvoiceKey(orderID string) string {
	return "invoice:" + orderID
}

func ComplianceKey(tenantID, subjectID, requestType string) string {
	return "compliance:" + tenantID + ":" + subjectID + ":" + requestType
}

// RefundKey derives a key from the transaction and the requested amount;
// a nil amount means a full refund.
func RefundKey(transactionID string, amountCents *int64) string {
	amount := "full"
	if amountCents != nil {
		amount = strconv.FormatInt(*amountCents, 10)
	}
	return "refund:" + transactionID + ":" + amount
}

func ManualPaymentKey(checkoutID string) string {
	return "sumup-manual:" + checkoutID
}
