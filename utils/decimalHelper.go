package utils

import "github.com/shopspring/decimal"

const MoneyPlaces = 2

// StoredPlaces is the scale of the quantity, price, rate and discount columns.
const StoredPlaces = 4

var DecimalOneHundred = decimal.NewFromInt(100)

// RoundMoney rounds half-up to two places. decimal.Round rounds half away from zero,
// which is the same thing for the non-negative amounts the ledger deals with.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func PercentOf(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(DecimalOneHundred)
}

func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FitsPlaces reports whether d survives storage at the given scale unchanged.
// Trailing zeros do not count: 1.50000 fits in one place.
func FitsPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
