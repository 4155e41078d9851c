package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema returns the JSON Schema document handed to models for
// structured output. Every property is listed as required so providers with
// strict structured output accept it; optional fields allow null instead.
func (s *Schema) JSONSchema() json.RawMessage {
	return json.RawMessage(s.doc)
}

// JSONSchemaMap returns JSONSchema decoded into a generic map.
func (s *Schema) JSONSchemaMap() map[string]any {
	var m map[string]any
	_ = json.Unmarshal(s.doc, &m)
	return m
}

func (s *Schema) marshalJSONSchema() ([]byte, error) {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))

	for _, f := range s.Fields {
		p := map[string]any{}
		jt := jsonType(f.Type)
		if f.Required {
			p["type"] = jt
		} else {
			p["type"] = []string{jt, "null"}
		}
		if f.Description != "" {
			p["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			enum := make([]any, 0, len(f.Enum)+1)
			for _, e := range f.Enum {
				enum = append(enum, e)
			}
			if !f.Required {
				enum = append(enum, nil)
			}
			p["enum"] = enum
		}
		if f.Minimum != nil {
			p["minimum"] = *f.Minimum
		}
		if f.Maximum != nil {
			p["maximum"] = *f.Maximum
		}
		if f.MinLength != nil {
			p["minLength"] = *f.MinLength
		}
		if f.MaxLength != nil {
			p["maxLength"] = *f.MaxLength
		}
		if f.Pattern != "" {
			p["pattern"] = f.Pattern
		}
		props[f.Name] = p
		required = append(required, f.Name)
	}

	doc := map[string]any{
		"title":                s.Name,
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	return json.Marshal(doc)
}

func jsonType(t Type) string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}

func compileJSONSchema(name string, doc []byte) (*jsonschema.Schema, error) {
	url := fmt.Sprintf("mem://schemas/%s.json", name)
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add json schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile json schema: %w", err)
	}
	return compiled, nil
}

// ValidateDocument checks raw JSON against the emitted JSON Schema. It is
// stricter than Validate: unknown keys and absent optional keys are errors.
func (s *Schema) ValidateDocument(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("document does not match schema %s: %w", s.Name, err)
	}
	return nil
}
