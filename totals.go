package adtrail

import (
	"github.com/shopspring/decimal"
)

// TotalRow derives a synthetic aggregate row from a set of metric rows.
//
// Every field whose value parses as a decimal number in at least one row is
// summed across all rows; the sum is rendered back with the maximum number
// of decimal places seen for that field (so "1.50" + "2.25" yields "3.75",
// and integer columns stay integers). Fields that never parse (statuses,
// identifiers, derived ratios) come back empty on the total row, mirroring
// how upstream exporters leave non-summable columns blank.
//
// The returned row carries [TotalRowName] and the field order of the first
// input row. TotalRow is a convenience for fetchers whose upstream does not
// produce its own aggregate row; adtrail itself persists whatever row set
// it receives and never appends totals on its own.
func TotalRow(rows []MetricRow) MetricRow {
	total := MetricRow{Name: TotalRowName}
	if len(rows) == 0 {
		return total
	}

	sums := make(map[string]decimal.Decimal)
	summable := make(map[string]bool)
	places := make(map[string]int32)

	for _, row := range rows {
		for _, f := range row.Fields {
			v, err := decimal.NewFromString(f.Value)
			if err != nil {
				continue
			}
			sums[f.Name] = sums[f.Name].Add(v)
			summable[f.Name] = true
			if exp := -v.Exponent(); exp > places[f.Name] {
				places[f.Name] = exp
			}
		}
	}

	for _, f := range rows[0].Fields {
		value := ""
		if summable[f.Name] {
			value = sums[f.Name].StringFixed(places[f.Name])
		}
		total.Fields = append(total.Fields, Field{Name: f.Name, Value: value})
	}
	return total
}
