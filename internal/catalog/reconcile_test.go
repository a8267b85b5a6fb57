package catalog

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

func ptr(v float64) *float64 { return &v }

func row(n int, sku, name, cost, margin, category, vat string) CandidateRow {
	return CandidateRow{
		Row:      n,
		SKU:      sku,
		Name:     name,
		Cost:     ParseCell(cost),
		Margin:   ParseCell(margin),
		Category: category,
		VAT:      ParseCell(vat),
	}
}

func widgetSnapshot() Snapshot {
	return Snapshot{
		"W1": {ID: 1, SKU: "W1", Name: "Widget", Cost: 5, Margin: ptr(0.3), Category: "tools", VATPercentage: ptr(12), CostWithVAT: 5.6, Price: 7.28, UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		"G1": {ID: 2, SKU: "G1", Name: "Gadget", Cost: 8, Margin: ptr(0.5)},
	}
}

func TestNewProductRequiresMargin(t *testing.T) {
	res := Reconcile([]CandidateRow{row(2, "X1", "Widget", "5", "", "", "")}, Snapshot{}, Options{})
	require.Empty(t, res.New)
	require.Len(t, res.Errors, 1)
	require.Equal(t, ReasonMarginRequired, res.Errors[0].Reason)
	require.Equal(t, FieldMargin, res.Errors[0].Field)

	res = Reconcile([]CandidateRow{row(2, "X1", "Widget", "5", "mucho", "", "12")}, Snapshot{}, Options{})
	require.Equal(t, ReasonMarginRequired, res.Errors[0].Reason)
}

func TestMissingMandatoryFields(t *testing.T) {
	rows := []CandidateRow{
		row(2, "  ", "Widget", "5", "0.3", "", "12"),
		row(3, "W9", " ", "5", "0.3", "", "12"),
		row(4, "W8", "Thing", "", "0.3", "", "12"),
		row(5, "W7", "Thing", "-1", "0.3", "", "12"),
		row(6, "W6", "Thing", "n/a", "0.3", "", "12"),
	}
	res := Reconcile(rows, widgetSnapshot(), Options{})
	require.Len(t, res.Errors, 5)
	for _, e := range res.Errors {
		require.Equal(t, ReasonMissingMandatory, e.Reason)
	}
	require.Equal(t, FieldSKU, res.Errors[0].Field)
	require.Equal(t, FieldName, res.Errors[1].Field)
	require.Equal(t, FieldCost, res.Errors[2].Field)
}

func TestIdenticalRowUnchanged(t *testing.T) {
	rows := []CandidateRow{
		row(2, " w1 ", " Widget ", "5", "0.30", "tools", "12"),
		row(3, "g1", "Gadget", "8.0000", "", "", ""),
	}
	res := Reconcile(rows, widgetSnapshot(), Options{})
	require.Empty(t, res.Errors)
	require.Empty(t, res.Modified)
	require.Equal(t, []UnchangedRow{{Row: 2, SKU: "W1"}, {Row: 3, SKU: "G1"}}, res.Unchanged)
	require.Equal(t, []int{3}, res.MissingVAT)
}

func TestBlankOptionalFieldsAreNoOpinion(t *testing.T) {
	res := Reconcile([]CandidateRow{row(2, "W1", "Widget", "5", "", "", "")}, widgetSnapshot(), Options{VATFallback: ptr(21)})
	require.Len(t, res.Unchanged, 1)
	require.Empty(t, res.Modified)
}

func TestModifiedCarriesFieldChanges(t *testing.T) {
	res := Reconcile([]CandidateRow{row(2, "W1", "Widget Pro", "6", "", "garden", "")}, widgetSnapshot(), Options{})
	require.Len(t, res.Modified, 1)
	mod := res.Modified[0]
	require.Equal(t, []FieldChange{
		{Field: FieldName, Old: "Widget", New: "Widget Pro"},
		{Field: FieldCost, Old: 5.0, New: 6.0},
		{Field: FieldCategory, Old: "tools", New: "garden"},
	}, mod.Changes)
	require.Equal(t, int64(1), mod.Next.ID)
	require.Equal(t, mod.Current.UpdatedAt, mod.Next.UpdatedAt)
	require.Equal(t, 0.3, *mod.Next.Margin)
	require.Equal(t, 6.72, mod.Next.CostWithVAT)
	require.Equal(t, 8.736, mod.Next.Price)
}

func TestNewRowIsPriced(t *testing.T) {
	res := Reconcile([]CandidateRow{row(2, "n1", "Lamp", "10", "0.30", "home", "12")}, Snapshot{}, Options{})
	require.Len(t, res.New, 1)
	p := res.New[0].Product
	require.Equal(t, "N1", p.SKU)
	require.Equal(t, 11.2, p.CostWithVAT)
	require.Equal(t, 14.56, p.Price)
	require.Empty(t, res.MissingVAT)
	require.NoError(t, res.Ready())
}

func TestVATFallback(t *testing.T) {
	rows := []CandidateRow{
		row(2, "N1", "Lamp", "10", "0.3", "", ""),
		row(3, "W1", "Widget", "5", "", "", ""),
		row(4, "G1", "Gadget", "8", "", "", ""),
	}
	snap := widgetSnapshot()

	res := Reconcile(rows, snap, Options{})
	require.Equal(t, []int{2, 3, 4}, res.MissingVAT)
	require.Nil(t, res.New[0].Product.VATPercentage)
	err := res.Ready()
	require.ErrorIs(t, err, ErrVATFallbackRequired)
	require.ErrorIs(t, err, shared.ErrPrecondition)

	res = Reconcile(rows, snap, Options{VATFallback: ptr(16)})
	require.NoError(t, res.Ready())
	require.Equal(t, 16.0, *res.New[0].Product.VATPercentage)
	require.Equal(t, []UnchangedRow{{Row: 3, SKU: "W1"}}, res.Unchanged)
	require.Len(t, res.Modified, 1)
	require.Equal(t, "G1", res.Modified[0].Next.SKU)
	require.Equal(t, []FieldChange{{Field: FieldVAT, Old: (*float64)(nil), New: 16.0}}, res.Modified[0].Changes)
}

func TestInvalidOptionalNumbers(t *testing.T) {
	res := Reconcile([]CandidateRow{
		row(2, "W1", "Widget", "5", "lots", "", "12"),
		row(3, "G1", "Gadget", "8", "", "", "-4"),
		row(4, "N1", "Lamp", "8", "0.1", "", "iva"),
	}, widgetSnapshot(), Options{})
	require.Len(t, res.Errors, 3)
	require.Equal(t, ReasonInvalidMargin, res.Errors[0].Reason)
	require.Equal(t, ReasonInvalidVAT, res.Errors[1].Reason)
	require.Equal(t, ReasonInvalidVAT, res.Errors[2].Reason)
}

func TestOutOfRangeNumbersRejected(t *testing.T) {
	res := Reconcile([]CandidateRow{
		row(2, "X1", "Widget", "1e999", "0.3", "", "12"),
		row(3, "X2", "Gadget", "5", "1e999", "", "12"),
		row(4, "W1", "Widget", "5", "1e999", "tools", "12"),
		row(5, "X3", "Lamp", "5", "0.3", "", "1e999"),
	}, widgetSnapshot(), Options{})
	require.Empty(t, res.New)
	require.Empty(t, res.Modified)
	require.Len(t, res.Errors, 4)

	reasons := make(map[int]RowError, len(res.Errors))
	for _, e := range res.Errors {
		reasons[e.Row] = e
	}
	require.Equal(t, FieldCost, reasons[2].Field)
	require.Equal(t, ReasonMissingMandatory, reasons[2].Reason)
	require.Equal(t, ReasonMarginRequired, reasons[3].Reason)
	require.Equal(t, ReasonInvalidMargin, reasons[4].Reason)
	require.Equal(t, ReasonInvalidVAT, reasons[5].Reason)
	require.Error(t, res.Ready())
}

func TestDuplicateWritesRejected(t *testing.T) {
	res := Reconcile([]CandidateRow{
		row(2, "N1", "Lamp", "10", "0.3", "", "12"),
		row(3, "n1", "Lamp XL", "12", "0.3", "", "12"),
		row(4, "W1", "Widget", "5", "0.3", "tools", "12"),
		row(5, "w1", "Widget", "5", "0.3", "tools", "12"),
	}, widgetSnapshot(), Options{})
	require.Empty(t, res.New)
	require.Len(t, res.Errors, 2)
	require.Equal(t, ReasonDuplicateSKU, res.Errors[0].Reason)
	require.Len(t, res.Unchanged, 2)
}

func TestReconcileOrderIndependent(t *testing.T) {
	rows := []CandidateRow{
		row(2, "N1", "Lamp", "10", "0.3", "", "12"),
		row(3, "W1", "Widget Pro", "5", "", "", ""),
		row(4, "G1", "Gadget", "8", "", "", "10"),
		row(5, "", "Nameless", "1", "", "", ""),
		row(6, "X1", "Widget", "5", "", "", ""),
		row(7, "N2", "Shade", "3", "0.5", "home", ""),
	}
	want := Reconcile(rows, widgetSnapshot(), Options{VATFallback: ptr(12)})

	reversed := slices.Clone(rows)
	slices.Reverse(reversed)
	require.Equal(t, want, Reconcile(reversed, widgetSnapshot(), Options{VATFallback: ptr(12)}))

	rotated := append(slices.Clone(rows[3:]), rows[:3]...)
	require.Equal(t, want, Reconcile(rotated, widgetSnapshot(), Options{VATFallback: ptr(12)}))

	require.Len(t, want.Errors, 2)
	require.Len(t, want.New, 2)
	require.Len(t, want.Modified, 2)
}

func TestReadyRejectsErrors(t *testing.T) {
	res := Reconcile([]CandidateRow{row(7, "", "x", "1", "", "", "1")}, Snapshot{}, Options{})
	err := res.Ready()
	require.ErrorIs(t, err, ErrErrorsPresent)
	require.ErrorIs(t, err, shared.ErrPrecondition)
	detail, ok := shared.DetailOf(err)
	require.True(t, ok)
	require.Equal(t, 7, detail.Row)
}

func TestSKUs(t *testing.T) {
	require.Equal(t, []string{"A1", "B2"}, SKUs([]CandidateRow{{SKU: " b2"}, {SKU: "a1"}, {SKU: "A1 "}, {SKU: ""}}))
}
