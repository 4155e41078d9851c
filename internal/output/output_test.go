package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Rows    int `json:"rows" yaml:"rows"`
	Pending int `json:"pending" yaml:"pending"`
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Printer{W: &buf, Format: FormatYAML}.Print(summary{Rows: 3, Pending: 1}))
	assert.Equal(t, "rows: 3\npending: 1\n", buf.String())

	buf.Reset()
	require.NoError(t, Printer{W: &buf, Format: FormatJSON}.Print(summary{Rows: 3}))
	assert.JSONEq(t, `{"rows":3,"pending":0}`, buf.String())

	assert.Error(t, To(&buf, "xml", summary{}))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}
