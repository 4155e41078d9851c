package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidSchema is returned when a schema definition cannot be used.
var ErrInvalidSchema = errors.New("invalid schema")

// Type is the declared value type of a field.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeFloat   Type = "float"
	TypeBoolean Type = "boolean"
	TypeEnum    Type = "enum"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeEnum:
		return true
	}
	return false
}

// Field describes one value to extract from a record.
type Field struct {
	Name        string   `yaml:"name" json:"name"`
	Type        Type     `yaml:"type" json:"type"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool     `yaml:"required" json:"required"`
	Enum        []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Minimum     *float64 `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum     *float64 `yaml:"maximum,omitempty" json:"maximum,omitempty"`
	MinLength   *int     `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength   *int     `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Pattern     string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	constraints []Constraint
}

// Constraints returns the value constraints of the field, in check order.
// Fields of a schema built by New or Parse return their compiled list;
// other fields build it from the declared rules on each call.
func (f Field) Constraints() ([]Constraint, error) {
	if f.constraints != nil {
		return f.constraints, nil
	}
	return buildConstraints(f)
}

// Schema is an ordered set of fields plus the compiled checks derived from them.
// A Schema is immutable once built and safe for concurrent use. Build it with
// New or Parse: a struct literal still validates values, but has no JSON
// Schema document, hash or field index.
type Schema struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []Field `yaml:"fields" json:"fields"`

	index    map[string]int
	compiled *jsonschema.Schema
	doc      []byte
	hash     string
}

// New builds a schema from fields and compiles its constraints.
func New(name string, fields ...Field) (*Schema, error) {
	s := &Schema{Name: name, Fields: fields}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is like New but panics on error. Intended for tests and built-ins.
func MustNew(name string, fields ...Field) *Schema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) compile() error {
	if s.Name == "" {
		s.Name = "record"
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: %s has no fields", ErrInvalidSchema, s.Name)
	}

	s.index = make(map[string]int, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrInvalidSchema, i)
		}
		if _, dup := s.index[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		if !f.Type.valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidSchema, f.Name, f.Type)
		}
		cs, err := buildConstraints(*f)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidSchema, f.Name, err)
		}
		f.constraints = cs
		s.index[f.Name] = i
	}

	doc, err := s.marshalJSONSchema()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	compiled, err := compileJSONSchema(s.Name, doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	s.doc = doc
	s.compiled = compiled

	sum := sha256.Sum256(doc)
	s.hash = hex.EncodeToString(sum[:])
	return nil
}

func buildConstraints(f Field) ([]Constraint, error) {
	var cs []Constraint

	switch f.Type {
	case TypeEnum:
		if len(f.Enum) == 0 {
			return nil, errors.New("enum field needs at least one allowed value")
		}
		cs = append(cs, enumConstraint{allowed: f.Enum})
	default:
		if len(f.Enum) > 0 {
			return nil, fmt.Errorf("enum values are only allowed on enum fields, not %s", f.Type)
		}
	}

	numeric := f.Type == TypeInteger || f.Type == TypeFloat
	if f.Minimum != nil || f.Maximum != nil {
		if !numeric {
			return nil, fmt.Errorf("minimum/maximum are only allowed on numeric fields, not %s", f.Type)
		}
		if f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum {
			return nil, fmt.Errorf("minimum %v exceeds maximum %v", *f.Minimum, *f.Maximum)
		}
		if f.Minimum != nil {
			cs = append(cs, minimumConstraint{min: *f.Minimum})
		}
		if f.Maximum != nil {
			cs = append(cs, maximumConstraint{max: *f.Maximum})
		}
	}

	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		if f.Type != TypeString {
			return nil, fmt.Errorf("length and pattern constraints are only allowed on string fields, not %s", f.Type)
		}
		if f.MinLength != nil {
			if *f.MinLength < 0 {
				return nil, errors.New("min_length must not be negative")
			}
			cs = append(cs, minLengthConstraint{min: *f.MinLength})
		}
		if f.MaxLength != nil {
			if f.MinLength != nil && *f.MinLength > *f.MaxLength {
				return nil, fmt.Errorf("min_length %d exceeds max_length %d", *f.MinLength, *f.MaxLength)
			}
			cs = append(cs, maxLengthConstraint{max: *f.MaxLength})
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("bad pattern: %w", err)
			}
			cs = append(cs, patternConstraint{re: re})
		}
	}

	return cs, nil
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Names returns field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Hash identifies the schema's effective shape. Two schemas with the same
// hash accept exactly the same records.
func (s *Schema) Hash() string {
	return s.hash
}

// Describe renders a one-line human summary of each field's type and constraints.
func (f Field) Describe() string {
	parts := make([]string, 0, len(f.constraints))
	for _, c := range f.constraints {
		parts = append(parts, c.Describe())
	}
	return strings.Join(parts, ", ")
}
