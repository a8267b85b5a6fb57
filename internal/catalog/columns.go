package catalog

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dropship-ops/opsconsole/internal/shared"
)

// Field identifies a catalog column.
type Field string

const (
	FieldSKU      Field = "sku"
	FieldName     Field = "name"
	FieldCost     Field = "cost"
	FieldMargin   Field = "margin"
	FieldCategory Field = "category"
	FieldVAT      Field = "vat_percentage"
)

// ErrMissingColumn indicates a mandatory column has no recognised header.
var ErrMissingColumn = errors.New("catalog: mandatory column missing")

var mandatoryFields = []Field{FieldSKU, FieldName, FieldCost}

// synonyms lists accepted headers per field in normalised form.
var synonyms = map[Field][]string{
	FieldSKU:      {"sku", "codigo", "cod", "code", "item code", "referencia", "ref"},
	FieldName:     {"name", "nombre", "producto", "product", "product name", "descripcion", "description"},
	FieldCost:     {"cost", "costo", "coste", "costo unitario", "unit cost", "costo sin iva", "cost without vat", "precio costo"},
	FieldMargin:   {"margin", "margen", "profit margin", "margen de ganancia", "ganancia", "utilidad"},
	FieldCategory: {"category", "categoria", "rubro", "familia"},
	FieldVAT:      {"vat", "vat percentage", "iva", "iva porcentaje", "porcentaje iva", "impuesto", "tax", "tax rate"},
}

var headerIndex = func() map[string]Field {
	out := make(map[string]Field)
	for field, names := range synonyms {
		for _, name := range names {
			out[name] = field
		}
	}
	return out
}()

// ColumnMap maps fields to column positions.
type ColumnMap map[Field]int

// MapColumns resolves spreadsheet headers to fields. The first header matching a field wins.
func MapColumns(headers []string) (ColumnMap, error) {
	cols := make(ColumnMap)
	for idx, header := range headers {
		field, ok := headerIndex[normalizeHeader(header)]
		if !ok {
			continue
		}
		if _, taken := cols[field]; !taken {
			cols[field] = idx
		}
	}
	for _, field := range mandatoryFields {
		if _, ok := cols[field]; !ok {
			return nil, shared.Validation(ErrMissingColumn, shared.Detail{
				Field:    string(field),
				Expected: "one of: " + strings.Join(synonyms[field], ", "),
			})
		}
	}
	return cols, nil
}

// normalizeHeader folds case, strips accents and collapses punctuation to single spaces.
func normalizeHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	s, _, err := transform.String(t, h)
	if err != nil {
		s = strings.ToLower(h)
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
