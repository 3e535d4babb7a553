package decimal

import (
	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// RoundBRL rounds to centavos
func RoundBRL(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatBRL renders an amount the way the DPS layout expects: dot separator, two places
func FormatBRL(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatRate renders a percentage rate with two places (pAliq)
func FormatRate(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// CalculateISS computes ISSQN: base * (rate/100), rounded to centavos
func CalculateISS(base, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return Zero
	}
	hundred := decimal.NewFromInt(100)
	return base.Mul(ratePercent).Div(hundred).Round(2)
}

// TaxableBase computes: service value - unconditional discount - deductions
func TaxableBase(value, unconditionalDiscount, deductions decimal.Decimal) decimal.Decimal {
	base := value.Sub(unconditionalDiscount).Sub(deductions)
	if base.IsNegative() {
		return Zero
	}
	return base.Round(2)
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// Between reports whether lo <= d <= hi
func Between(d, lo, hi decimal.Decimal) bool {
	return d.GreaterThanOrEqual(lo) && d.LessThanOrEqual(hi)
}
