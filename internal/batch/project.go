package batch

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/table"
)

// Diagnostic column names added to the output table.
const (
	StatusColumn = "extraction_status"
	DetailColumn = "extraction_detail"
)

// Row status values in StatusColumn.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// CollisionSuffix is appended to a field column whose name is already taken
// by an input column.
const CollisionSuffix = "_extracted"

// Project returns the input table with one column per schema field and the
// two diagnostic columns. Input columns are never overwritten: a field whose
// name is taken gets CollisionSuffix appended until it is unique. Every
// input row appears exactly once, in order.
func Project(in *table.Table, state *State, s *schema.Schema) *table.Table {
	columns := append([]string(nil), in.Columns...)
	taken := make(map[string]bool, len(columns))
	for _, c := range columns {
		taken[c] = true
	}
	slot := func(name string) int {
		for taken[name] {
			name += CollisionSuffix
		}
		taken[name] = true
		columns = append(columns, name)
		return len(columns) - 1
	}

	fieldSlots := make([]int, len(s.Fields))
	for i, f := range s.Fields {
		fieldSlots[i] = slot(f.Name)
	}
	statusSlot := slot(StatusColumn)
	detailSlot := slot(DetailColumn)

	out := &table.Table{Columns: columns, Rows: make([]table.Row, 0, len(in.Rows))}
	for _, r := range in.Rows {
		values := make([]string, len(columns))
		copy(values, r.Values)

		res, ok := state.Result(r.Index)
		switch {
		case !ok:
			values[statusSlot] = StatusPending
			values[detailSlot] = ""
			for _, i := range fieldSlots {
				values[i] = ""
			}
		case res.Succeeded():
			values[statusSlot] = StatusOK
			values[detailSlot] = ""
			for i, f := range s.Fields {
				values[fieldSlots[i]] = FormatValue(res.Fields[f.Name])
			}
		default:
			values[statusSlot] = StatusFailed
			values[detailSlot] = res.Summary()
			for _, i := range fieldSlots {
				values[i] = ""
			}
		}
		out.Rows = append(out.Rows, table.Row{Index: r.Index, Columns: columns, Values: values})
	}
	return out
}

// FormatValue renders a typed field value as a cell: integers in decimal,
// floats in their shortest form, booleans as true/false, nil as empty.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}
