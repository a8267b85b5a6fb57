package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	"github.com/dropship-ops/opsconsole/internal/shared"
)

func TestMapColumnsSynonyms(t *testing.T) {
	cols, err := MapColumns([]string{"Código", "Descripción", "Costo", "Margen de Ganancia", "Categoría", "% IVA", "Notas"})
	require.NoError(t, err)
	require.Equal(t, ColumnMap{
		FieldSKU:      0,
		FieldName:     1,
		FieldCost:     2,
		FieldMargin:   3,
		FieldCategory: 4,
		FieldVAT:      5,
	}, cols)

	cols, err = MapColumns([]string{"SKU", "Product_Name", "Unit Cost", "profit_margin", "VAT Percentage"})
	require.NoError(t, err)
	require.Equal(t, 1, cols[FieldName])
	require.Equal(t, 4, cols[FieldVAT])
}

func TestMapColumnsMissingMandatory(t *testing.T) {
	_, err := MapColumns([]string{"sku", "nombre", "margen"})
	require.ErrorIs(t, err, ErrMissingColumn)
	require.ErrorIs(t, err, shared.ErrValidation)
	detail, ok := shared.DetailOf(err)
	require.True(t, ok)
	require.Equal(t, "cost", detail.Field)
}

func TestParseCell(t *testing.T) {
	cases := []struct {
		raw   string
		value float64
		blank bool
		valid bool
	}{
		{raw: "12", value: 12, valid: true},
		{raw: " 12,5 ", value: 12.5, valid: true},
		{raw: "1,234.50", value: 1234.5, valid: true},
		{raw: "$10", value: 10, valid: true},
		{raw: "30%", value: 30, valid: true},
		{raw: "-0.5", value: -0.5, valid: true},
		{raw: "   ", blank: true},
		{raw: "abc"},
		{raw: "1,2,3"},
		{raw: "1e999"},
		{raw: "-1e999"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			c := ParseCell(tc.raw)
			require.Equal(t, tc.blank, c.Blank)
			require.Equal(t, tc.valid, c.Valid)
			require.Equal(t, tc.value, c.Value)
			require.Equal(t, tc.raw, c.Raw)
		})
	}
}

func TestRowsFromTableNumbersSheetRows(t *testing.T) {
	rows, err := RowsFromTable(
		[]string{"sku", "name", "cost", "iva"},
		[][]string{
			{"a1", "Lamp", "10", "12"},
			{"", " ", "", ""},
			{"a2", "Desk", "abc"},
		},
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 2, rows[0].Row)
	require.Equal(t, 4, rows[1].Row)
	require.True(t, rows[0].Margin.Blank)
	require.True(t, rows[1].Cost.Invalid())
	require.True(t, rows[1].VAT.Blank)
}

func TestRowsFromRecords(t *testing.T) {
	rows, err := RowsFromRecords([]map[string]string{
		{"SKU": "b1", "Nombre": "Silla", "Costo": "7", "Margen": "0.2"},
		{"SKU": "b2", "Nombre": "Mesa", "Costo": "9"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "b1", rows[0].SKU)
	require.Equal(t, 0.2, rows[0].Margin.Value)
	require.True(t, rows[1].Margin.Blank)
}

func TestExportRowsRoundTrip(t *testing.T) {
	margin, vat := 0.3, 12.0
	items := []products.Product{
		{SKU: "A1", Name: "Lamp", Cost: 10, Margin: &margin, Category: "home", VATPercentage: &vat, CostWithVAT: 11.2, Price: 14.56},
		{SKU: "A2", Name: "Desk", Cost: 20.5},
	}
	table := ExportRows(items)
	require.Equal(t, ExportHeaders, table[0])
	require.Equal(t, []string{"A1", "Lamp", "10", "0.3", "home", "12", "11.2", "14.56"}, table[1])
	require.Equal(t, []string{"A2", "Desk", "20.5", "", "", "", "0", "0"}, table[2])

	rows, err := RowsFromTable(table[0], table[1:])
	require.NoError(t, err)
	snap := Snapshot{"A1": items[0], "A2": items[1]}
	res := Reconcile(rows, snap, Options{})
	require.Empty(t, res.Errors)
	require.Empty(t, res.Modified)
	require.Len(t, res.Unchanged, 2)
}
