package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/table"
)

func TestProject(t *testing.T) {
	tbl, err := table.New([]string{"review", "topic"}, [][]string{
		{"Loved it", "old"},
		{"Meh", "old"},
		{"???", "old"},
	})
	require.NoError(t, err)

	state := newState([]int{0, 1, 2})
	state.record(0, extract.Result{
		Status:   extract.StatusSucceeded,
		Fields:   map[string]any{"sentiment": "positive", "confidence": 0.9},
		Attempts: 1,
	})
	state.record(1, extract.Result{
		Status:     extract.StatusExhausted,
		Reason:     extract.ReasonSchemaViolation,
		Violations: []schema.Violation{{Field: "sentiment", Kind: schema.NotInEnum, Detail: `"great" is not one of ["positive", "negative", "neutral"]`}},
		Attempts:   3,
	})

	out := Project(tbl, state, sentiment(t))
	assert.Equal(t, []string{"review", "topic", "sentiment", "confidence", "topic_extracted", StatusColumn, DetailColumn}, out.Columns)
	require.Len(t, out.Rows, 3)

	assert.Equal(t, []string{"Loved it", "old", "positive", "0.9", "", "ok", ""}, out.Rows[0].Values)

	assert.Equal(t, "failed", out.Rows[1].Values[5])
	assert.Equal(t, `schema_violation after 3 attempts: sentiment: not_in_enum ("great" is not one of ["positive", "negative", "neutral"])`, out.Rows[1].Values[6])
	assert.Equal(t, "", out.Rows[1].Values[2], "field columns are blank for failed rows")

	assert.Equal(t, []string{"???", "old", "", "", "", "pending", ""}, out.Rows[2].Values)

	// The input table is untouched.
	assert.Equal(t, []string{"review", "topic"}, tbl.Columns)
	assert.Equal(t, []string{"Loved it", "old"}, tbl.Rows[0].Values)
}

func TestProjectKeepsCollidingInputColumns(t *testing.T) {
	s, err := schema.New("person", schema.Field{Name: "age", Type: schema.TypeInteger, Required: true})
	require.NoError(t, err)
	tbl, err := table.New([]string{"id", "age", "age_extracted"}, [][]string{
		{"1", "42", "x"},
		{"2", "17", "y"},
	})
	require.NoError(t, err)

	state := newState([]int{0, 1})
	state.record(0, extract.Result{
		Status:   extract.StatusExhausted,
		Reason:   extract.ReasonUnparseable,
		Attempts: 3,
	})
	state.record(1, extract.Result{
		Status:   extract.StatusSucceeded,
		Fields:   map[string]any{"age": int64(18)},
		Attempts: 1,
	})

	out := Project(tbl, state, s)
	assert.Equal(t, []string{"id", "age", "age_extracted", "age_extracted_extracted", StatusColumn, DetailColumn}, out.Columns)
	assert.Equal(t, []string{"1", "42", "x", "", "failed", "unparseable after 3 attempts"}, out.Rows[0].Values)
	assert.Equal(t, []string{"2", "17", "y", "18", "ok", ""}, out.Rows[1].Values)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{int64(42), "42"},
		{float64(0.1), "0.1"},
		{float64(100), "100"},
		{float64(2.5e-7), "0.00000025"},
		{true, "true"},
		{false, "false"},
		{json.Number("7"), "7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}

func TestStateCursor(t *testing.T) {
	s := newState([]int{0, 1, 2, 3})
	assert.Equal(t, -1, s.Cursor())

	s.record(2, extract.Result{Status: extract.StatusSucceeded})
	assert.Equal(t, -1, s.Cursor())
	s.record(0, extract.Result{Status: extract.StatusSucceeded})
	assert.Equal(t, 0, s.Cursor())
	s.record(1, extract.Result{Status: extract.StatusExhausted})
	assert.Equal(t, 2, s.Cursor())

	// A second result for a finalized row is ignored.
	s.record(1, extract.Result{Status: extract.StatusSucceeded})
	r, _ := s.Result(1)
	assert.Equal(t, extract.StatusExhausted, r.Status)
	assert.Equal(t, []int{3}, s.Pending())
}
