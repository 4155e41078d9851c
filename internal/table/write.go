package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// Write saves t to path in the given format, or the one implied by the extension.
// The file is written to a temporary name and renamed into place.
func Write(path string, t *Table, format Format) error {
	if format == "" {
		f, ok := FormatFor(path)
		if !ok {
			f = FormatCSV
		}
		format = f
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := path + ".tmp"

	var err error
	switch format {
	case FormatXLSX:
		err = writeXLSX(tmp, t)
	case FormatCSV, FormatTSV:
		err = writeDelimitedFile(tmp, t, format)
	default:
		err = fmt.Errorf("unsupported table format %q", format)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func writeDelimitedFile(path string, t *Table, format Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	delim := ','
	if format == FormatTSV {
		delim = '\t'
	}
	if err := WriteDelimited(f, t, delim); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteDelimited writes the header and rows of t as CSV with the given separator.
func WriteDelimited(w io.Writer, t *Table, delim rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = delim
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range t.Rows {
		if err := cw.Write(r.Values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(path string, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", toCells(t.Columns)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, toCells(r.Values)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.Index, err)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := f.Write(out); err != nil {
		out.Close()
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return out.Close()
}

func toCells(values []string) *[]any {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return &cells
}
