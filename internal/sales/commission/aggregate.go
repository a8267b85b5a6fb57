package commission

import (
	"sort"

	"github.com/shopspring/decimal"
)

var rate = decimal.NewFromFloat(Rate)

type accumulator struct {
	orders int
	sales  decimal.Decimal
	gp     decimal.Decimal
}

// Aggregate folds commissionable orders into one Commission per salesperson, ordered by
// salesperson id. Orders in other states are ignored.
func Aggregate(orders []Order) []Commission {
	acc := make(map[string]*accumulator)
	for _, o := range orders {
		if !o.Status.Commissionable() {
			continue
		}
		a, ok := acc[o.SalespersonID]
		if !ok {
			a = &accumulator{}
			acc[o.SalespersonID] = a
		}
		a.orders++
		a.sales = a.sales.Add(decimal.NewFromFloat(o.Total))
		for _, l := range o.Lines {
			a.gp = a.gp.Add(GrossProfit(l))
		}
	}

	out := make([]Commission, 0, len(acc))
	for id, a := range acc {
		out = append(out, Commission{
			SalespersonID: id,
			Orders:        a.orders,
			TotalSales:    a.sales.InexactFloat64(),
			TotalGP:       a.gp.InexactFloat64(),
			Commission:    a.gp.Mul(rate).InexactFloat64(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SalespersonID < out[j].SalespersonID })
	return out
}

// GrossProfit returns (unit_price - unit_cost) * quantity for a line.
func GrossProfit(l OrderLine) decimal.Decimal {
	price := decimal.NewFromFloat(l.UnitPrice)
	cost := decimal.NewFromFloat(l.UnitCost)
	return price.Sub(cost).Mul(decimal.NewFromFloat(l.Quantity))
}
