package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tyler-sommer/stick"

	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/table"
)

// DefaultMaxPriorChars caps how much of a rejected answer is echoed back.
const DefaultMaxPriorChars = 4000

// BuilderConfig configures prompt rendering.
type BuilderConfig struct {
	// TextColumns restricts the record text to these columns. When set, the
	// values are also exposed to templates as a single "report" string.
	TextColumns []string
	// MaxPriorChars truncates the previous answer embedded in repair prompts.
	MaxPriorChars int
	// SystemTemplate and UserTemplate are optional override file paths.
	SystemTemplate string
	UserTemplate   string
	Logger         *slog.Logger
}

// Builder renders extraction requests. Rendering is deterministic: the same
// row, schema, attempt and prior failure always produce the same request.
type Builder struct {
	resolver    *Resolver
	env         *stick.Env
	textColumns []string
	maxPrior    int
}

// NewBuilder creates a builder, applying any template overrides.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	resolver := NewResolver(cfg.Logger)
	if cfg.SystemTemplate != "" {
		if err := resolver.OverrideFile(SystemPromptKey, cfg.SystemTemplate); err != nil {
			return nil, err
		}
	}
	if cfg.UserTemplate != "" {
		if err := resolver.OverrideFile(UserPromptKey, cfg.UserTemplate); err != nil {
			return nil, err
		}
	}
	if cfg.MaxPriorChars <= 0 {
		cfg.MaxPriorChars = DefaultMaxPriorChars
	}
	return &Builder{
		resolver:    resolver,
		env:         stick.New(nil),
		textColumns: cfg.TextColumns,
		maxPrior:    cfg.MaxPriorChars,
	}, nil
}

// Resolver exposes the templates in effect.
func (b *Builder) Resolver() *Resolver {
	return b.resolver
}

// fieldView is the per-field data exposed to templates.
type fieldView struct {
	Name           string
	Type           string
	Description    string
	Required       bool
	Constraints    string
	HasConstraints bool
	HasDescription bool
}

// Build renders the request for attempt (1-based) on row. A nil prior, or a
// transport failure, yields the plain first-attempt prompt. Unparseable and
// schema-violation failures add repair feedback with the rejected answer.
func (b *Builder) Build(row table.Row, s *schema.Schema, attempt int, prior *Prior) (*Request, error) {
	if s == nil {
		return nil, fmt.Errorf("build prompt for row %d: nil schema", row.Index)
	}

	pretty, err := indentJSON(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("build prompt for row %d: %w", row.Index, err)
	}

	fields := make([]fieldView, len(s.Fields))
	for i, f := range s.Fields {
		desc := f.Describe()
		fields[i] = fieldView{
			Name:           f.Name,
			Type:           string(f.Type),
			Description:    f.Description,
			Required:       f.Required,
			Constraints:    desc,
			HasConstraints: desc != "",
			HasDescription: f.Description != "",
		}
	}

	columns := row.Pairs(b.textColumns...)
	var report strings.Builder
	for i, c := range columns {
		if i > 0 {
			report.WriteString(table.GroupSeparator)
		}
		report.WriteString(c.Value)
	}

	vars := map[string]stick.Value{
		"schema_name":        s.Name,
		"schema_description": s.Description,
		"fields":             fields,
		"json_schema":        pretty,
		"row_index":          row.Index,
		"columns":            columns,
		"report":             report.String(),
		"has_report":         len(b.textColumns) > 0,
		"repair":             false,
		"unparseable":        false,
		"violation":          false,
		"violations":         []string{},
		"prior_raw":          "",
	}

	if prior != nil && prior.Reason != ReasonTransport {
		vars["repair"] = true
		vars["prior_raw"] = truncate(prior.Raw, b.maxPrior)
		switch prior.Reason {
		case ReasonUnparseable:
			vars["unparseable"] = true
		case ReasonSchemaViolation:
			vars["violation"] = true
			lines := make([]string, len(prior.Violations))
			for i, v := range prior.Violations {
				lines[i] = v.String()
			}
			vars["violations"] = lines
		}
	}

	system, err := b.render(SystemPromptKey, vars)
	if err != nil {
		return nil, err
	}
	user, err := b.render(UserPromptKey, vars)
	if err != nil {
		return nil, err
	}

	return &Request{
		RowIndex:   row.Index,
		Attempt:    attempt,
		System:     system,
		User:       user,
		SchemaName: s.Name,
		Schema:     s.JSONSchema(),
		Hash:       HashText(system + "\x00" + user),
	}, nil
}

func (b *Builder) render(key string, vars map[string]stick.Value) (string, error) {
	p, err := b.resolver.Resolve(key)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if err := b.env.Execute(p.Text, &out, vars); err != nil {
		return "", fmt.Errorf("execute %q: %w", key, err)
	}
	return strings.TrimSpace(out.String()), nil
}

func indentJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "\n[truncated]"
}
