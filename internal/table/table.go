package table

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrMalformed is returned for input that cannot be read as a rectangular
// table with a unique header row.
var ErrMalformed = errors.New("malformed table")

// Format is a supported table file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// Table is a header plus rows. Row i of Rows has Index i.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row is one input record. Values align with Columns.
type Row struct {
	Index   int
	Columns []string
	Values  []string
}

// Get returns the value for a column name.
func (r Row) Get(column string) (string, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return "", false
}

// Column is a name/value pair from a row.
type Column struct {
	Name  string
	Value string
}

// Pairs returns the row's columns in header order, optionally restricted to names.
func (r Row) Pairs(only ...string) []Column {
	out := make([]Column, 0, len(r.Columns))
	if len(only) == 0 {
		for i, c := range r.Columns {
			out = append(out, Column{Name: c, Value: r.Values[i]})
		}
		return out
	}
	for _, name := range only {
		if v, ok := r.Get(name); ok {
			out = append(out, Column{Name: name, Value: v})
		}
	}
	return out
}

// New builds a table from a header and raw records, indexing rows in order.
// It checks the header is unique and every record has the header's width.
func New(columns []string, records [][]string) (*Table, error) {
	if len(columns) == 0 {
		return nil, errors.Join(ErrMalformed, errors.New("missing header row"))
	}
	seen := make(map[string]bool, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, errors.Join(ErrMalformed, errors.New("empty column name in header"))
		}
		if seen[c] {
			return nil, errors.Join(ErrMalformed, errors.New("duplicate column "+c))
		}
		seen[c] = true
		columns[i] = c
	}

	t := &Table{Columns: columns, Rows: make([]Row, 0, len(records))}
	for _, rec := range records {
		if len(rec) != len(columns) {
			return nil, errors.Join(ErrMalformed, errRagged(len(t.Rows)+2, len(rec), len(columns)))
		}
		t.Rows = append(t.Rows, Row{Index: len(t.Rows), Columns: columns, Values: rec})
	}
	return t, nil
}

// FormatFor returns the format implied by a file extension.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, true
	case ".tsv", ".tab":
		return FormatTSV, true
	case ".xlsx":
		return FormatXLSX, true
	}
	return "", false
}

// OutputPath returns <dir>/<stem>_structured<ext> for an input path.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(input, ext)
	if ext == "" {
		ext = ".csv"
	}
	return stem + "_structured" + ext
}
