package stripe

import (
	"strings"

	"github.com/shopspring/decimal"
)

var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

func isZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// toMinorUnits converts a major-unit amount into the integer Stripe expects.
func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	if isZeroDecimal(currency) {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if isZeroDecimal(currency) {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
