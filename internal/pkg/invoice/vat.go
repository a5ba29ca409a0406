package invoice

import (
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/Plan5/app/models"
)

var hundred = decimal.NewFromInt(100)

// IncludedVAT returns the VAT contained in a gross total at ratePercent,
// rounded half away from zero to whole minor units.
func IncludedVAT(totalCents int64, ratePercent decimal.Decimal) int64 {
	if ratePercent.Sign() <= 0 {
		return 0
	}
	total := decimal.NewFromInt(totalCents)
	net := total.Div(decimal.NewFromInt(1).Add(ratePercent.Div(hundred)))
	return total.Sub(net).Round(0).IntPart()
}

// VatSummary is empty when no rate applies.
func VatSummary(totalCents int64, ratePercent decimal.Decimal) []models.VatLine {
	if ratePercent.Sign() <= 0 {
		return []models.VatLine{}
	}
	vat := IncludedVAT(totalCents, ratePercent)
	return []models.VatLine{{
		Rate:        ratePercent.String(),
		AmountCents: vat,
		NetCents:    totalCents - vat,
	}}
}
