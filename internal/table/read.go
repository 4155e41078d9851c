package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadOptions controls how an input file is parsed.
type ReadOptions struct {
	// Format overrides detection from extension and content.
	Format Format
	// Delimiter overrides the separator for delimited formats.
	Delimiter rune
	// Sheet selects the XLSX sheet; empty means the first sheet.
	Sheet string
}

// Read loads a table from path. The first record is the header.
func Read(path string, opts ReadOptions) (*Table, error) {
	format := opts.Format
	if format == "" {
		f, err := Detect(path)
		if err != nil {
			return nil, err
		}
		format = f
	}

	switch format {
	case FormatXLSX:
		return readXLSX(path, opts.Sheet)
	case FormatCSV, FormatTSV:
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		delim := opts.Delimiter
		if delim == 0 {
			delim = ','
			if format == FormatTSV {
				delim = '\t'
			}
		}
		return ParseDelimited(content, delim)
	}
	return nil, fmt.Errorf("unsupported table format %q", format)
}

// Detect picks a format from the file extension, falling back to content sniffing.
func Detect(path string) (Format, error) {
	if f, ok := FormatFor(path); ok {
		return f, nil
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect format of %s: %w", path, err)
	}
	switch {
	case mtype.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return FormatXLSX, nil
	case mtype.Is("text/tab-separated-values"):
		return FormatTSV, nil
	case mtype.Is("text/csv"), mtype.Is("text/plain"):
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported input type %s for %s", mtype.String(), path)
}

// ParseDelimited parses CSV-style content. A UTF-8 byte order mark is
// dropped, and content that is not valid UTF-8 is decoded as Latin-1.
func ParseDelimited(content []byte, delim rune) (*Table, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode latin-1 input: %w", err)
		}
		content = decoded
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = delim == '\t'

	header, err := r.Read()
	if err == io.EOF {
		return nil, errors.Join(ErrMalformed, errors.New("empty input"))
	}
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
		if isBlank(rec) {
			continue
		}
		records = append(records, rec)
	}
	return New(header, records)
}

func readXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.Join(ErrMalformed, errors.New("workbook has no sheets"))
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, errors.Join(ErrMalformed, errors.New("empty sheet "+sheet))
	}

	header := rows[0]
	records := make([][]string, 0, len(rows)-1)
	for _, rec := range rows[1:] {
		if isBlank(rec) {
			continue
		}
		// GetRows trims trailing empty cells.
		if len(rec) < len(header) {
			padded := make([]string, len(header))
			copy(padded, rec)
			rec = padded
		}
		records = append(records, rec)
	}
	return New(header, records)
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func errRagged(line, got, want int) error {
	return fmt.Errorf("record on line %d has %d fields, header has %d", line, got, want)
}
