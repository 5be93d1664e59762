package adtrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTotalRow_SumsNumericFields verifies numeric columns sum and keep
// the widest decimal precision seen.
func TestTotalRow_SumsNumericFields(t *testing.T) {
	rows := []MetricRow{
		{Name: "Brand Search", Fields: []Field{
			{Name: "clicks", Value: "120"},
			{Name: "cost", Value: "45.50"},
		}},
		{Name: "Display", Fields: []Field{
			{Name: "clicks", Value: "80"},
			{Name: "cost", Value: "12.255"},
		}},
	}

	total := TotalRow(rows)

	assert.Equal(t, TotalRowName, total.Name)
	assert.True(t, total.IsTotal())

	clicks, ok := total.FieldValue("clicks")
	require.True(t, ok)
	assert.Equal(t, "200", clicks)

	cost, ok := total.FieldValue("cost")
	require.True(t, ok)
	assert.Equal(t, "57.755", cost)
}

// TestTotalRow_NonNumericFieldsStayEmpty verifies statuses and ratios are
// left blank rather than summed.
func TestTotalRow_NonNumericFieldsStayEmpty(t *testing.T) {
	rows := []MetricRow{
		{Name: "A", Fields: []Field{
			{Name: "status", Value: "ENABLED"},
			{Name: "clicks", Value: "10"},
		}},
		{Name: "B", Fields: []Field{
			{Name: "status", Value: "PAUSED"},
			{Name: "clicks", Value: "5"},
		}},
	}

	total := TotalRow(rows)
	require.Len(t, total.Fields, 2)
	assert.Equal(t, Field{Name: "status", Value: ""}, total.Fields[0])
	assert.Equal(t, Field{Name: "clicks", Value: "15"}, total.Fields[1])
}

// TestTotalRow_Empty verifies the degenerate case.
func TestTotalRow_Empty(t *testing.T) {
	total := TotalRow(nil)
	assert.Equal(t, TotalRowName, total.Name)
	assert.Empty(t, total.Fields)
}

// TestTotalRow_FieldOrderFollowsFirstRow verifies field order is taken
// from the first row, not map iteration.
func TestTotalRow_FieldOrderFollowsFirstRow(t *testing.T) {
	rows := []MetricRow{
		{Name: "A", Fields: []Field{
			{Name: "z", Value: "1"},
			{Name: "m", Value: "2"},
			{Name: "a", Value: "3"},
		}},
	}

	total := TotalRow(rows)
	require.Len(t, total.Fields, 3)
	assert.Equal(t, "z", total.Fields[0].Name)
	assert.Equal(t, "m", total.Fields[1].Name)
	assert.Equal(t, "a", total.Fields[2].Name)
}

// TestMetricRow_FieldValue verifies the lookup helper distinguishes
// missing fields from empty values.
func TestMetricRow_FieldValue(t *testing.T) {
	row := MetricRow{Name: "A", Fields: []Field{{Name: "cost", Value: ""}}}

	v, ok := row.FieldValue("cost")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, ok = row.FieldValue("missing")
	assert.False(t, ok)
}
