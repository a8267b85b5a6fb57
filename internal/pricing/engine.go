// Package pricing derives tax-inclusive cost and sale price from cost, VAT and margin.
//
// Rounding to four decimal places is applied after every multiplication so that bulk
// previews and committed catalog rows agree exactly.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"
)

// Places is the rounding precision applied after each step.
const Places = 4

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Quote bundles the inputs and derived values of one price calculation.
type Quote struct {
	Cost        float64 `json:"cost"`
	VAT         float64 `json:"vat_percentage"`
	Margin      float64 `json:"margin"`
	CostWithVAT float64 `json:"cost_with_vat"`
	Price       float64 `json:"price"`
}

// NewQuote computes a Quote.
func NewQuote(cost, vatPct, margin float64) Quote {
	return Quote{
		Cost:        cost,
		VAT:         vatPct,
		Margin:      margin,
		CostWithVAT: CostWithVAT(cost, vatPct),
		Price:       Price(cost, vatPct, margin),
	}
}

// CostWithVAT returns round4(cost * (1 + vatPct/100)).
func CostWithVAT(cost, vatPct float64) float64 {
	if !finite(cost, vatPct) {
		return math.NaN()
	}
	return costWithVAT(cost, vatPct).InexactFloat64()
}

// Price returns round4(CostWithVAT(cost, vatPct) * (1 + margin)).
func Price(cost, vatPct, margin float64) float64 {
	if !finite(cost, vatPct, margin) {
		return math.NaN()
	}
	withVAT := costWithVAT(cost, vatPct)
	return withVAT.Mul(one.Add(decimal.NewFromFloat(margin))).Round(Places).InexactFloat64()
}

// Round4 rounds half away from zero to four decimal places.
func Round4(x float64) float64 {
	if !finite(x) {
		return x
	}
	return decimal.NewFromFloat(x).Round(Places).InexactFloat64()
}

// ValidInputs reports whether the arguments are acceptable: finite numbers, cost and VAT
// not negative.
func ValidInputs(cost, vatPct, margin float64) bool {
	return finite(cost, vatPct, margin) && cost >= 0 && vatPct >= 0
}

func costWithVAT(cost, vatPct float64) decimal.Decimal {
	factor := one.Add(decimal.NewFromFloat(vatPct).Div(hundred))
	return decimal.NewFromFloat(cost).Mul(factor).Round(Places)
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
