package schema

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.yaml
var schemaFS embed.FS

// Builtins returns the names of the schemas shipped with the binary.
func Builtins() []string {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// Get returns a built-in schema by name.
func Get(name string) (*Schema, error) {
	content, err := schemaFS.ReadFile(fmt.Sprintf("schemas/%s.yaml", strings.ToLower(name)))
	if err != nil {
		return nil, fmt.Errorf("schema not found: %s", name)
	}
	return Parse(content)
}

// Load reads a schema from a YAML or JSON file.
func Load(filePath string) (*Schema, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", filePath, err)
	}
	s, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return s, nil
}

// Resolve loads ref as a file when it exists, otherwise as a built-in name.
func Resolve(ref string) (*Schema, error) {
	if _, err := os.Stat(ref); err == nil {
		return Load(ref)
	}
	s, err := Get(ref)
	if err != nil {
		return nil, fmt.Errorf("%s is neither a schema file nor a built-in schema (%s)", ref, strings.Join(Builtins(), ", "))
	}
	return s, nil
}

// Parse decodes a schema definition. JSON is accepted since it is valid YAML.
func Parse(content []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(content, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}
