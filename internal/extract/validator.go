package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/jackzampolin/tabextract/internal/schema"
)

// ParseAndValidate locates a JSON object in raw model text and checks it
// against s. It tries the whole text, then the body of a markdown code fence,
// then the span from the first "{" to the last "}", then the first balanced
// object. Arrays and scalars are unparseable: a record is always an object.
func ParseAndValidate(raw string, s *schema.Schema, mode schema.Mode) Outcome {
	obj, ok := locateObject(raw)
	if !ok {
		return Outcome{Reason: ReasonUnparseable, Detail: unparseableDetail(raw), Raw: raw}
	}

	fields, violations := s.Coerce(obj, mode)
	if len(violations) > 0 {
		return Outcome{Reason: ReasonSchemaViolation, Violations: violations, Raw: raw}
	}
	return Outcome{Fields: fields, Raw: raw}
}

func unparseableDetail(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "empty response"
	}
	return "no JSON object found in response"
}

func locateObject(content string) (map[string]any, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" {
		candidates = append(candidates, stripped)
	}
	if extracted := extractObjectSpan(content); extracted != "" {
		candidates = append(candidates, extracted)
	}
	if balanced := firstBalancedObject(content); balanced != "" {
		candidates = append(candidates, balanced)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if _, ok := seen[candidate]; ok || candidate == "" {
			continue
		}
		seen[candidate] = struct{}{}

		v, ok := decodeValue(candidate)
		if !ok {
			continue
		}
		// Well-formed JSON that is not an object is a wrong answer, not
		// something to dig into.
		obj, isObject := v.(map[string]any)
		return obj, isObject
	}
	return nil, false
}

func decodeValue(candidate string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// Trailing garbage means the candidate was not a single value.
	if dec.More() {
		return nil, false
	}
	return v, true
}

func stripCodeFences(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return ""
	}
	rest := content[start+3:]
	// Drop the language tag line, if any.
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return ""
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func extractObjectSpan(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return content[start : end+1]
}

// firstBalancedObject returns the first brace-balanced {...} span, skipping
// braces inside JSON strings.
func firstBalancedObject(content string) string {
	b := []byte(content)
	for start := bytes.IndexByte(b, '{'); start >= 0; {
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(b); i++ {
			c := b[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return string(b[start : i+1])
				}
			}
		}
		next := bytes.IndexByte(b[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}
