package agent

import (
	"math"
	"strings"
)

// MinOrderKRW is the exchange's minimum order value in the quote currency.
const MinOrderKRW = 5000

// quantityDecimals bounds order quantities to the exchange's precision.
const quantityDecimals = 8

// BaseSymbol strips the quote prefix from a market code: "KRW-BTC" -> "BTC".
func BaseSymbol(market string) string {
	if i := strings.Index(market, "-"); i >= 0 {
		return market[i+1:]
	}
	return market
}

// ClampQuantity floors a quantity to the exchange's supported precision so
// sell orders never exceed the held amount after rounding.
func ClampQuantity(q float64) float64 {
	pow := math.Pow(10, quantityDecimals)
	return math.Floor(q*pow) / pow
}
