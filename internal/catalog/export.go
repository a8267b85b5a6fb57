package catalog

import (
	"strconv"

	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
)

// ExportHeaders is the header row written by ExportRows. Every input column maps back through
// MapColumns; derived columns are ignored on import.
var ExportHeaders = []string{"sku", "name", "cost", "margin", "category", "vat_percentage", "cost_with_vat", "price"}

// ExportRows renders products as a header row followed by one row per product.
func ExportRows(items []products.Product) [][]string {
	out := make([][]string, 0, len(items)+1)
	out = append(out, append([]string(nil), ExportHeaders...))
	for _, p := range items {
		out = append(out, []string{
			p.SKU,
			p.Name,
			formatNumber(p.Cost),
			formatOptional(p.Margin),
			p.Category,
			formatOptional(p.VATPercentage),
			formatNumber(p.CostWithVAT),
			formatNumber(p.Price),
		})
	}
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatNumber(*v)
}
