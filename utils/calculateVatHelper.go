package utils

import (
	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

// RoundMoney rounds to 2 decimal places, half away from zero.
// Every intermediate monetary result goes through this — reconciliation
// cross-checks assume per-step rounding, not final-only rounding.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// CalculateVatAmount computes round2(base * rate / 100).
// rate is a percentage (20 means 20%).
func CalculateVatAmount(base decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Mul(rate).Div(decimalOneHundred))
}

// CalculateDiscountAmount computes round2(base * discountRate / 100).
func CalculateDiscountAmount(base decimal.Decimal, discountRate decimal.Decimal) decimal.Decimal {
	if discountRate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return RoundMoney(base.Mul(discountRate).Div(decimalOneHundred))
}

// ApplyDiscount returns round2(base - discountAmount).
func ApplyDiscount(base decimal.Decimal, discountAmount decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Sub(discountAmount))
}
