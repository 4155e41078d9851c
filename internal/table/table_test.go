package table

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDelimited(t *testing.T) {
	t.Run("basic csv", func(t *testing.T) {
		tbl, err := ParseDelimited([]byte("id,text\n1,hello\n2,\"a, b\"\n"), ',')
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "text"}, tbl.Columns)
		require.Len(t, tbl.Rows, 2)
		assert.Equal(t, 1, tbl.Rows[1].Index)
		v, ok := tbl.Rows[1].Get("text")
		assert.True(t, ok)
		assert.Equal(t, "a, b", v)
	})

	t.Run("bom stripped", func(t *testing.T) {
		tbl, err := ParseDelimited(append([]byte{0xEF, 0xBB, 0xBF}, "id,text\n1,x\n"...), ',')
		require.NoError(t, err)
		assert.Equal(t, "id", tbl.Columns[0])
	})

	t.Run("latin-1 fallback", func(t *testing.T) {
		// "Größe" encoded as ISO-8859-1.
		content := []byte("id,text\n1,Gr\xf6\xdfe\n")
		tbl, err := ParseDelimited(content, ',')
		require.NoError(t, err)
		assert.Equal(t, "Größe", tbl.Rows[0].Values[1])
	})

	t.Run("tsv", func(t *testing.T) {
		tbl, err := ParseDelimited([]byte("a\tb\nx \"y\"\tz\n"), '\t')
		require.NoError(t, err)
		assert.Equal(t, `x "y"`, tbl.Rows[0].Values[0])
	})

	t.Run("blank lines skipped", func(t *testing.T) {
		tbl, err := ParseDelimited([]byte("a,b\n1,2\n,\n3,4\n"), ',')
		require.NoError(t, err)
		require.Len(t, tbl.Rows, 2)
		assert.Equal(t, 1, tbl.Rows[1].Index)
	})

	malformed := map[string]string{
		"empty":            "",
		"ragged":           "a,b\n1,2,3\n",
		"duplicate header": "a,a\n1,2\n",
		"empty header":     "a,\n1,2\n",
	}
	for name, content := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDelimited([]byte(content), ',')
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := &Table{Columns: []string{"id", "note"}}
	for i, v := range [][]string{{"1", "first, with comma"}, {"2", "multi\nline"}, {"3", ""}} {
		src.Rows = append(src.Rows, Row{Index: i, Columns: src.Columns, Values: v})
	}

	for _, name := range []string{"out.csv", "out.tsv", "out.xlsx"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Write(path, src, ""))

			got, err := Read(path, ReadOptions{})
			require.NoError(t, err)
			assert.Equal(t, src.Columns, got.Columns)
			require.Len(t, got.Rows, len(src.Rows))
			for i := range src.Rows {
				assert.Equal(t, src.Rows[i].Values, got.Rows[i].Values)
			}

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestDetectByContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))
	f, err := Detect(path)
	require.NoError(t, err)
	assert.Contains(t, []Format{FormatCSV, FormatTSV}, f)
}

func TestWriteDelimited(t *testing.T) {
	tbl, err := New([]string{"a", "b"}, [][]string{{"1", "x"}})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteDelimited(&buf, tbl, ';'))
	assert.Equal(t, "a;b\n1;x\n", buf.String())
}

func TestGroupBy(t *testing.T) {
	tbl, err := New([]string{"patient", "date", "report"}, [][]string{
		{"p1", "", "first visit"},
		{"p2", "2021", "only visit"},
		{"p1", "2020", "second visit"},
		{"p1", "2023", " "},
	})
	require.NoError(t, err)

	grouped, err := GroupBy(tbl, "patient", []string{"report"})
	require.NoError(t, err)
	require.Len(t, grouped.Rows, 2)
	assert.Equal(t, []string{"p1", "2020", "first visit\n\nsecond visit"}, grouped.Rows[0].Values)
	assert.Equal(t, []string{"p2", "2021", "only visit"}, grouped.Rows[1].Values)
	assert.Equal(t, 1, grouped.Rows[1].Index)

	_, err = GroupBy(tbl, "missing", nil)
	assert.Error(t, err)
	_, err = GroupBy(tbl, "patient", []string{"missing"})
	assert.Error(t, err)
}

func TestEstimate(t *testing.T) {
	tbl, err := New([]string{"id", "text"}, [][]string{
		{"1", "one two three"},
		{"2", "one"},
		{"3", "one two"},
	})
	require.NoError(t, err)

	assert.Equal(t, 12, tbl.Rows[0].EstimateTokens())
	assert.Equal(t, 9, tbl.Rows[0].EstimateTokens("text"))

	stats := Estimate(tbl, "text")
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, 18, stats.Total)
	assert.Equal(t, 3, stats.Min)
	assert.Equal(t, 9, stats.Max)
	assert.Equal(t, 6, stats.P50)
	assert.Equal(t, 9, stats.P99)

	assert.Equal(t, TokenStats{}, Estimate(&Table{}))
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "/data/notes_structured.csv", OutputPath("/data/notes.csv"))
	assert.Equal(t, "x_structured.xlsx", OutputPath("x.xlsx"))
	assert.Equal(t, "raw_structured.csv", OutputPath("raw"))
}
