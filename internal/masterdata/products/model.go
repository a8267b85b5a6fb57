package products

import (
	"strings"
	"time"
)

// Product represents a product entity
type Product struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Cost          float64   `json:"cost"`
	Margin        *float64  `json:"margin,omitempty"`
	Category      string    `json:"category"`
	VATPercentage *float64  `json:"vat_percentage,omitempty"`
	CostWithVAT   float64   `json:"cost_with_vat"`
	Price         float64   `json:"price"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NormalizeSKU trims and upper-cases a SKU. Lookups and the unique key use this form.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Batch is one atomic write of master data. Updates carry the UpdatedAt they were read with;
// a row changed since then fails the whole batch.
type Batch struct {
	Inserts []Product `json:"inserts"`
	Updates []Product `json:"updates"`
}

// Empty reports whether the batch writes nothing.
func (b Batch) Empty() bool {
	return len(b.Inserts) == 0 && len(b.Updates) == 0
}

// BatchResult lists the rows as persisted.
type BatchResult struct {
	Inserted []Product `json:"inserted"`
	Updated  []Product `json:"updated"`
}
