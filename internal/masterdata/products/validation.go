package products

import (
	"errors"
	"math"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

var (
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("products: product not found")
	// ErrDuplicateSKU indicates another product already uses the SKU.
	ErrDuplicateSKU = errors.New("products: sku already exists")
	// ErrStaleProduct indicates the product changed after it was read.
	ErrStaleProduct = errors.New("products: product modified concurrently")
)

func validate(p Product, row int) error {
	switch {
	case NormalizeSKU(p.SKU) == "":
		return shared.Validation(errors.New("product sku is required"), shared.Detail{Row: row, Field: "sku"})
	case p.Name == "":
		return shared.Validation(errors.New("product name is required"), shared.Detail{Row: row, Field: "name", Value: p.SKU})
	case !finite(p.Cost) || p.Cost < 0:
		return shared.Validation(errors.New("product cost must be a non-negative number"), shared.Detail{Row: row, Field: "cost", Value: p.Cost, Expected: ">= 0"})
	case p.Margin != nil && !finite(*p.Margin):
		return shared.Validation(errors.New("product margin must be a number"), shared.Detail{Row: row, Field: "margin", Value: *p.Margin})
	case p.VATPercentage != nil && (!finite(*p.VATPercentage) || *p.VATPercentage < 0):
		return shared.Validation(errors.New("product vat must be a non-negative number"), shared.Detail{Row: row, Field: "vat_percentage", Value: *p.VATPercentage, Expected: ">= 0"})
	}
	return nil
}

// ValidateBatch checks every product of the batch. Row numbers are 1-based over inserts
// followed by updates.
func ValidateBatch(b Batch) error {
	for i, p := range b.Inserts {
		if err := validate(p, i+1); err != nil {
			return err
		}
	}
	for i, p := range b.Updates {
		if p.ID <= 0 {
			return shared.Validation(errors.New("product id required for update"), shared.Detail{Row: len(b.Inserts) + i + 1, Field: "id", Value: p.ID})
		}
		if err := validate(p, len(b.Inserts)+i+1); err != nil {
			return err
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
