package catalog

import (
	"sort"
	"strings"
)

// HeaderRow is the spreadsheet row holding column headers. Data rows are numbered after it.
const HeaderRow = 1

// CandidateRow is one parsed spreadsheet row awaiting reconciliation.
type CandidateRow struct {
	Row      int    `json:"row"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Cost     Cell   `json:"cost"`
	Margin   Cell   `json:"margin"`
	Category string `json:"category"`
	VAT      Cell   `json:"vat_percentage"`
}

// RowsFromTable converts already decoded spreadsheet records into candidate rows. Records
// with every cell blank are skipped; row numbers keep counting so they match the sheet.
func RowsFromTable(headers []string, records [][]string) ([]CandidateRow, error) {
	cols, err := MapColumns(headers)
	if err != nil {
		return nil, err
	}
	out := make([]CandidateRow, 0, len(records))
	for i, record := range records {
		if blankRecord(record) {
			continue
		}
		cell := func(f Field) string {
			idx, ok := cols[f]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		}
		out = append(out, CandidateRow{
			Row:      HeaderRow + i + 1,
			SKU:      cell(FieldSKU),
			Name:     cell(FieldName),
			Cost:     ParseCell(cell(FieldCost)),
			Margin:   ParseCell(cell(FieldMargin)),
			Category: cell(FieldCategory),
			VAT:      ParseCell(cell(FieldVAT)),
		})
	}
	return out, nil
}

// RowsFromRecords accepts rows keyed by header, as produced by JSON spreadsheet exports.
func RowsFromRecords(records []map[string]string) ([]CandidateRow, error) {
	seen := make(map[string]struct{})
	var headers []string
	for _, rec := range records {
		for h := range rec {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				headers = append(headers, h)
			}
		}
	}
	sort.Strings(headers)
	table := make([][]string, len(records))
	for i, rec := range records {
		table[i] = make([]string, len(headers))
		for j, h := range headers {
			table[i][j] = rec[h]
		}
	}
	return RowsFromTable(headers, table)
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
