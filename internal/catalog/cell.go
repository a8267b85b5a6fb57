package catalog

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Cell is one numeric spreadsheet value as typed by the user.
type Cell struct {
	Raw   string  `json:"raw"`
	Value float64 `json:"value"`
	Blank bool    `json:"blank"`
	Valid bool    `json:"valid"`
}

// ParseCell parses a numeric cell. Currency symbols, a trailing percent sign and thousands
// separators are tolerated; a lone comma is read as the decimal separator. Values outside
// the float64 range are not valid.
func ParseCell(raw string) Cell {
	c := Cell{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		c.Blank = true
		return c
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return c
	}
	v := d.InexactFloat64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return c
	}
	c.Value = v
	c.Valid = true
	return c
}

// NumberCell builds a valid cell from an already numeric value.
func NumberCell(v float64) Cell {
	return Cell{Raw: decimal.NewFromFloat(v).String(), Value: v, Valid: true}
}

// Present reports whether the cell holds a usable number.
func (c Cell) Present() bool {
	return !c.Blank && c.Valid
}

// Invalid reports whether the cell holds text that is not a number.
func (c Cell) Invalid() bool {
	return !c.Blank && !c.Valid
}

func (c Cell) ptr() *float64 {
	if !c.Present() {
		return nil
	}
	v := c.Value
	return &v
}
