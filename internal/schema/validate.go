package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ViolationKind classifies why a field value was rejected.
type ViolationKind string

const (
	MissingRequired ViolationKind = "missing_required"
	WrongType       ViolationKind = "wrong_type"
	NotInEnum       ViolationKind = "not_in_enum"
	BelowMinimum    ViolationKind = "below_minimum"
	AboveMaximum    ViolationKind = "above_maximum"
	TooShort        ViolationKind = "too_short"
	TooLong         ViolationKind = "too_long"
	PatternMismatch ViolationKind = "pattern_mismatch"
	// InvalidRule marks a field whose declared rules cannot be checked.
	InvalidRule ViolationKind = "invalid_rule"
)

// Violation is one broken rule on one field.
type Violation struct {
	Field  string        `json:"field"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	if v.Detail == "" {
		return fmt.Sprintf("%s: %s", v.Field, v.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Kind, v.Detail)
}

// Mode selects how forgiving type coercion is.
type Mode int

const (
	// Strict accepts only values whose JSON type already matches the field.
	Strict Mode = iota
	// Lenient also accepts common model spellings: "yes"/"no" for booleans,
	// "5 mg" for numbers, and enum values that differ only in case.
	Lenient
)

// Validate reports every rule broken by fields, in schema field order.
// Keys not declared in the schema are ignored. An empty result means the
// record is acceptable.
func (s *Schema) Validate(fields map[string]any) []Violation {
	_, violations := s.Coerce(fields, Strict)
	return violations
}

// Coerce converts decoded JSON values to their declared Go types
// (string, int64, float64, bool) and checks every constraint.
// Optional fields that are absent or null are omitted from the result.
// The returned map is only meaningful when no violations are reported.
func (s *Schema) Coerce(fields map[string]any, mode Mode) (map[string]any, []Violation) {
	out := make(map[string]any, len(s.Fields))
	var violations []Violation

	for _, f := range s.Fields {
		raw, present := fields[f.Name]
		if mode == Lenient {
			raw = blankToNil(f, raw)
		}
		if !present || raw == nil {
			if f.Required {
				violations = append(violations, Violation{Field: f.Name, Kind: MissingRequired, Detail: "value is required"})
			}
			continue
		}

		v, err := coerceValue(f, raw, mode)
		if err != nil {
			violations = append(violations, Violation{Field: f.Name, Kind: WrongType, Detail: err.Error()})
			continue
		}

		cs, err := f.Constraints()
		if err != nil {
			violations = append(violations, Violation{Field: f.Name, Kind: InvalidRule, Detail: err.Error()})
			continue
		}
		ok := true
		for _, c := range cs {
			if detail, pass := c.Check(v); !pass {
				violations = append(violations, Violation{Field: f.Name, Kind: c.Kind(), Detail: detail})
				ok = false
			}
		}
		if ok {
			out[f.Name] = v
		}
	}
	return out, violations
}

func blankToNil(f Field, raw any) any {
	if f.Type == TypeString || f.Required {
		return raw
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	return raw
}

func coerceValue(f Field, raw any, mode Mode) (any, error) {
	switch f.Type {
	case TypeString:
		return coerceString(raw, mode)
	case TypeEnum:
		return coerceEnum(f, raw, mode)
	case TypeInteger:
		return coerceInteger(raw, mode)
	case TypeFloat:
		return coerceFloat(raw, mode)
	case TypeBoolean:
		return coerceBool(raw, mode)
	}
	return nil, fmt.Errorf("unknown type %s", f.Type)
}

func coerceString(raw any, mode Mode) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case json.Number, float64, int64, bool:
		if mode == Lenient {
			return fmt.Sprint(v), nil
		}
	}
	return nil, typeError("string", raw)
}

func coerceEnum(f Field, raw any, mode Mode) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, typeError("string", raw)
	}
	if mode == Lenient {
		trimmed := strings.TrimSpace(s)
		for _, allowed := range f.Enum {
			if strings.EqualFold(trimmed, allowed) {
				return allowed, nil
			}
		}
	}
	return s, nil
}

func coerceInteger(raw any, mode Mode) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		if fl, err := v.Float64(); err == nil {
			return integral(fl, raw)
		}
	case float64:
		return integral(v, raw)
	case string:
		if mode == Lenient {
			if fl, ok := leadingNumber(v); ok {
				return integral(fl, raw)
			}
		}
	}
	return nil, typeError("integer", raw)
}

func integral(f float64, raw any) (any, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, typeError("integer", raw)
	}
	return int64(f), nil
}

func coerceFloat(raw any, mode Mode) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if mode == Lenient {
			if f, ok := leadingNumber(v); ok {
				return f, nil
			}
		}
	}
	return nil, typeError("number", raw)
}

func coerceBool(raw any, mode Mode) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		if mode == Lenient {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "yes", "y", "true", "1":
				return true, nil
			case "no", "n", "false", "0":
				return false, nil
			}
		}
	case json.Number:
		if mode == Lenient {
			switch v.String() {
			case "1":
				return true, nil
			case "0":
				return false, nil
			}
		}
	}
	return nil, typeError("boolean", raw)
}

var leadingNumberRe = regexp.MustCompile(`^\s*([-+]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][-+]?\d+)?)`)

// leadingNumber parses the number at the start of s, so "5 mg" yields 5.
func leadingNumber(s string) (float64, bool) {
	m := leadingNumberRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func typeError(want string, raw any) error {
	return fmt.Errorf("expected %s, got %s", want, jsonKind(raw))
}

func jsonKind(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("string %q", x)
	case bool:
		return fmt.Sprintf("boolean %t", x)
	case json.Number:
		return "number " + x.String()
	case float64:
		return "number " + formatNumber(x)
	case int64, int:
		return fmt.Sprintf("number %d", x)
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
