package table

import (
	"fmt"
	"strings"
)

// GroupSeparator joins text from grouped rows.
const GroupSeparator = "\n\n"

// GroupBy merges rows sharing the same key column value into one row per key,
// in order of first appearance. Columns listed in join are concatenated with
// GroupSeparator (empty values skipped); every other column takes the first
// non-empty value in the group.
func GroupBy(t *Table, key string, join []string) (*Table, error) {
	keyIdx := indexOf(t.Columns, key)
	if keyIdx < 0 {
		return nil, fmt.Errorf("group column %q not found in header", key)
	}
	joined := make(map[int]bool, len(join))
	for _, name := range join {
		i := indexOf(t.Columns, name)
		if i < 0 {
			return nil, fmt.Errorf("text column %q not found in header", name)
		}
		joined[i] = true
	}

	var order []string
	groups := make(map[string][]Row)
	for _, r := range t.Rows {
		k := r.Values[keyIdx]
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := &Table{Columns: t.Columns, Rows: make([]Row, 0, len(order))}
	for _, k := range order {
		members := groups[k]
		values := make([]string, len(t.Columns))
		for i := range t.Columns {
			if joined[i] {
				continue
			}
			for _, m := range members {
				if strings.TrimSpace(m.Values[i]) != "" {
					values[i] = m.Values[i]
					break
				}
			}
		}
		for i := range joined {
			var parts []string
			for _, m := range members {
				if v := strings.TrimSpace(m.Values[i]); v != "" {
					parts = append(parts, v)
				}
			}
			values[i] = strings.Join(parts, GroupSeparator)
		}
		out.Rows = append(out.Rows, Row{Index: len(out.Rows), Columns: t.Columns, Values: values})
	}
	return out, nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
