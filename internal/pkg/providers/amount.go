package providers

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMajor converts minor units into a two decimal amount (1050 -> 10.50).
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// MajorNumber renders minor units as a JSON number in major units.
func MajorNumber(minor int64) json.Number {
	return json.Number(ToMajor(minor).StringFixed(2))
}

// ToMinor converts a major unit amount to minor units, rounding half away
// from zero.
func ToMinor(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

// ParseMajor converts a decimal string or JSON number in major units.
func ParseMajor(raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return ToMinor(d), nil
}
