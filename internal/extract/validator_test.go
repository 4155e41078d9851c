package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tabextract/internal/schema"
)

func sentiment(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Get("sentiment")
	require.NoError(t, err)
	return s
}

func TestParseAndValidate(t *testing.T) {
	s := sentiment(t)

	valid := []struct {
		name string
		raw  string
	}{
		{"bare object", `{"sentiment":"positive","confidence":0.9}`},
		{"whitespace", "\n  {\"sentiment\":\"negative\"}  \n"},
		{"code fence", "```json\n{\"sentiment\":\"neutral\"}\n```"},
		{"fence after prose", "Here you go:\n```\n{\"sentiment\":\"neutral\"}\n```\nThanks"},
		{"surrounding prose", `The answer is {"sentiment":"positive"} as requested.`},
		{"two objects picks first", `{"sentiment":"positive"} and also {"sentiment":"negative"}`},
		{"braces inside strings", `Result: {"sentiment":"positive","topic":"a {weird} } topic"} done`},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			out := ParseAndValidate(tt.raw, s, schema.Strict)
			require.True(t, out.Valid(), "reason=%s detail=%s violations=%v", out.Reason, out.Detail, out.Violations)
			assert.NotEmpty(t, out.Fields["sentiment"])
			assert.Equal(t, tt.raw, out.Raw)
		})
	}

	unparseable := map[string]string{
		"empty":       "",
		"prose":       "I think the sentiment is positive.",
		"array":       `[{"sentiment":"positive"}]`,
		"scalar":      `"positive"`,
		"broken json": `{"sentiment": "positive"`,
	}
	for name, raw := range unparseable {
		t.Run(name, func(t *testing.T) {
			out := ParseAndValidate(raw, s, schema.Strict)
			assert.Equal(t, ReasonUnparseable, out.Reason)
			assert.NotEmpty(t, out.Detail)
		})
	}

	t.Run("schema violation", func(t *testing.T) {
		out := ParseAndValidate(`{"sentiment":"great","confidence":2}`, s, schema.Strict)
		assert.Equal(t, ReasonSchemaViolation, out.Reason)
		require.Len(t, out.Violations, 2)
		assert.Equal(t, schema.NotInEnum, out.Violations[0].Kind)
		assert.Equal(t, schema.AboveMaximum, out.Violations[1].Kind)
		assert.Nil(t, out.Fields)
	})

	t.Run("lenient coercion", func(t *testing.T) {
		out := ParseAndValidate(`{"sentiment":"POSITIVE","confidence":"0.8"}`, s, schema.Lenient)
		require.True(t, out.Valid())
		assert.Equal(t, "positive", out.Fields["sentiment"])
		assert.Equal(t, 0.8, out.Fields["confidence"])
	})
}

func TestResultSummary(t *testing.T) {
	assert.Equal(t, "", Result{Status: StatusSucceeded, Attempts: 1}.Summary())
	assert.Equal(t, "unparseable after 1 attempt: no JSON object found in response",
		Result{Status: StatusExhausted, Reason: ReasonUnparseable, Detail: "no JSON object found in response", Attempts: 1}.Summary())
	assert.Equal(t, `schema_violation after 3 attempts: sentiment: not_in_enum (bad)`,
		Result{
			Status:     StatusExhausted,
			Reason:     ReasonSchemaViolation,
			Violations: []schema.Violation{{Field: "sentiment", Kind: schema.NotInEnum, Detail: "bad"}},
			Attempts:   3,
		}.Summary())
}
