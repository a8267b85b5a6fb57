package catalog

import (
	"errors"
	"sort"
	"strings"

	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	"github.com/dropship-ops/opsconsole/internal/pricing"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Row error reasons.
const (
	ReasonMissingMandatory = "missing mandatory field"
	ReasonMarginRequired   = "new product requires margin"
	ReasonInvalidMargin    = "margin is not a number"
	ReasonInvalidVAT       = "vat_percentage is not a non-negative number"
	ReasonDuplicateSKU     = "sku appears in more than one row"
)

var (
	// ErrErrorsPresent blocks a sync while any row sits in the errors bucket.
	ErrErrorsPresent = errors.New("catalog: rows with errors must be corrected before sync")
	// ErrVATFallbackRequired blocks a sync while rows lack VAT and no fallback was chosen.
	ErrVATFallbackRequired = errors.New("catalog: a fallback vat percentage is required")
)

// Snapshot is the master data known for the candidate SKUs, keyed by normalised SKU.
type Snapshot map[string]products.Product

// Options tunes a reconciliation.
type Options struct {
	// VATFallback is applied to rows without VAT whose product has none either.
	VATFallback *float64 `json:"vat_fallback,omitempty"`
}

// RowError is a row that cannot be synced as is.
type RowError struct {
	Row    int    `json:"row"`
	SKU    string `json:"sku"`
	Field  Field  `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// FieldChange is one old/new pair of a modified product.
type FieldChange struct {
	Field Field `json:"field"`
	Old   any   `json:"old"`
	New   any   `json:"new"`
}

// NewRow is a product to insert, priced.
type NewRow struct {
	Row     int              `json:"row"`
	Product products.Product `json:"product"`
}

// ModifiedRow is a product to update with the changes that justify it.
type ModifiedRow struct {
	Row     int              `json:"row"`
	Current products.Product `json:"current"`
	Next    products.Product `json:"next"`
	Changes []FieldChange    `json:"changes"`
}

// UnchangedRow is a row identical to its product.
type UnchangedRow struct {
	Row int    `json:"row"`
	SKU string `json:"sku"`
}

// Result holds the four disjoint buckets of a reconciliation, each ordered by row.
type Result struct {
	Errors      []RowError     `json:"errors"`
	New         []NewRow       `json:"new"`
	Modified    []ModifiedRow  `json:"modified"`
	Unchanged   []UnchangedRow `json:"unchanged"`
	MissingVAT  []int          `json:"missing_vat"`
	VATFallback *float64       `json:"vat_fallback,omitempty"`
}

// Ready reports whether the result may be synced.
func (r Result) Ready() error {
	if len(r.Errors) > 0 {
		first := r.Errors[0]
		return shared.Precondition(ErrErrorsPresent, shared.Detail{Row: first.Row, Field: string(first.Field), Value: first.SKU, Expected: first.Reason})
	}
	if len(r.MissingVAT) > 0 && r.VATFallback == nil {
		return shared.Precondition(ErrVATFallbackRequired, shared.Detail{Row: r.MissingVAT[0], Field: string(FieldVAT), Expected: "fallback percentage"})
	}
	return nil
}

// FlagMissingVAT returns the rows whose VAT cell is blank, ascending.
func FlagMissingVAT(rows []CandidateRow) []int {
	var out []int
	for _, r := range rows {
		if r.VAT.Blank {
			out = append(out, r.Row)
		}
	}
	sort.Ints(out)
	return out
}

// SKUs returns the distinct normalised SKUs of rows.
func SKUs(rows []CandidateRow) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		sku := products.NormalizeSKU(r.SKU)
		if _, ok := seen[sku]; ok || sku == "" {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, sku)
	}
	sort.Strings(out)
	return out
}

// Reconcile classifies every row against the snapshot. Each row is classified on its own,
// so the result does not depend on row order.
func Reconcile(rows []CandidateRow, snapshot Snapshot, opts Options) Result {
	res := Result{MissingVAT: FlagMissingVAT(rows), VATFallback: opts.VATFallback}
	for _, row := range rows {
		classify(&res, row, snapshot, opts)
	}
	rejectDuplicates(&res, rows)

	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Row < res.Errors[j].Row })
	sort.Slice(res.New, func(i, j int) bool { return res.New[i].Row < res.New[j].Row })
	sort.Slice(res.Modified, func(i, j int) bool { return res.Modified[i].Row < res.Modified[j].Row })
	sort.Slice(res.Unchanged, func(i, j int) bool { return res.Unchanged[i].Row < res.Unchanged[j].Row })
	return res
}

func classify(res *Result, row CandidateRow, snapshot Snapshot, opts Options) {
	sku := products.NormalizeSKU(row.SKU)
	name := strings.TrimSpace(row.Name)
	fail := func(field Field, reason string) {
		res.Errors = append(res.Errors, RowError{Row: row.Row, SKU: sku, Field: field, Reason: reason})
	}

	switch {
	case sku == "":
		fail(FieldSKU, ReasonMissingMandatory)
		return
	case name == "":
		fail(FieldName, ReasonMissingMandatory)
		return
	case !row.Cost.Present() || row.Cost.Value < 0:
		fail(FieldCost, ReasonMissingMandatory)
		return
	}
	if row.VAT.Invalid() || (row.VAT.Present() && row.VAT.Value < 0) {
		fail(FieldVAT, ReasonInvalidVAT)
		return
	}
	category := strings.TrimSpace(row.Category)

	current, exists := snapshot[sku]
	if !exists {
		if !row.Margin.Present() {
			fail(FieldMargin, ReasonMarginRequired)
			return
		}
		vat := row.VAT.ptr()
		if vat == nil {
			vat = copyPtr(opts.VATFallback)
		}
		p := priced(products.Product{
			SKU:           sku,
			Name:          name,
			Cost:          row.Cost.Value,
			Margin:        row.Margin.ptr(),
			Category:      category,
			VATPercentage: vat,
		})
		res.New = append(res.New, NewRow{Row: row.Row, Product: p})
		return
	}

	if row.Margin.Invalid() {
		fail(FieldMargin, ReasonInvalidMargin)
		return
	}
	next := current
	var changes []FieldChange
	if next.Name != name {
		changes = append(changes, FieldChange{Field: FieldName, Old: current.Name, New: name})
		next.Name = name
	}
	if !sameAmount(next.Cost, row.Cost.Value) {
		changes = append(changes, FieldChange{Field: FieldCost, Old: current.Cost, New: row.Cost.Value})
		next.Cost = row.Cost.Value
	}
	if margin := row.Margin.ptr(); margin != nil && !samePtr(next.Margin, margin) {
		changes = append(changes, FieldChange{Field: FieldMargin, Old: current.Margin, New: *margin})
		next.Margin = margin
	}
	if category != "" && next.Category != category {
		changes = append(changes, FieldChange{Field: FieldCategory, Old: current.Category, New: category})
		next.Category = category
	}
	vat := row.VAT.ptr()
	if vat == nil && current.VATPercentage == nil {
		vat = copyPtr(opts.VATFallback)
	}
	if vat != nil && !samePtr(next.VATPercentage, vat) {
		changes = append(changes, FieldChange{Field: FieldVAT, Old: current.VATPercentage, New: *vat})
		next.VATPercentage = vat
	}

	if len(changes) == 0 {
		res.Unchanged = append(res.Unchanged, UnchangedRow{Row: row.Row, SKU: sku})
		return
	}
	res.Modified = append(res.Modified, ModifiedRow{Row: row.Row, Current: current, Next: priced(next), Changes: changes})
}

// rejectDuplicates moves rows that would write a SKU listed in several rows into errors.
// Rows identical to their product stay unchanged.
func rejectDuplicates(res *Result, rows []CandidateRow) {
	count := make(map[string]int)
	for _, r := range rows {
		if sku := products.NormalizeSKU(r.SKU); sku != "" {
			count[sku]++
		}
	}
	dup := func(sku string) bool { return count[sku] > 1 }

	writes := make(map[string]bool)
	for _, n := range res.New {
		if dup(n.Product.SKU) {
			writes[n.Product.SKU] = true
		}
	}
	for _, m := range res.Modified {
		if dup(m.Next.SKU) {
			writes[m.Next.SKU] = true
		}
	}
	if len(writes) == 0 {
		return
	}

	keepNew := res.New[:0]
	for _, n := range res.New {
		if writes[n.Product.SKU] {
			res.Errors = append(res.Errors, RowError{Row: n.Row, SKU: n.Product.SKU, Field: FieldSKU, Reason: ReasonDuplicateSKU})
			continue
		}
		keepNew = append(keepNew, n)
	}
	res.New = keepNew

	keepMod := res.Modified[:0]
	for _, m := range res.Modified {
		if writes[m.Next.SKU] {
			res.Errors = append(res.Errors, RowError{Row: m.Row, SKU: m.Next.SKU, Field: FieldSKU, Reason: ReasonDuplicateSKU})
			continue
		}
		keepMod = append(keepMod, m)
	}
	res.Modified = keepMod
}

func priced(p products.Product) products.Product {
	q := pricing.NewQuote(p.Cost, deref(p.VATPercentage), deref(p.Margin))
	p.CostWithVAT = q.CostWithVAT
	p.Price = q.Price
	return p
}

func sameAmount(a, b float64) bool {
	return pricing.Round4(a) == pricing.Round4(b)
}

func samePtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return sameAmount(*a, *b)
}

func copyPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
