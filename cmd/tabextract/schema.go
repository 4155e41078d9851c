package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/schema"
)

// errInvalidAnswer makes `schema validate` exit non-zero after printing.
var errInvalidAnswer = errors.New("answer does not satisfy the schema")

type fieldReport struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Constraints string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type schemaReport struct {
	Name   string        `json:"name" yaml:"name"`
	Hash   string        `json:"hash" yaml:"hash"`
	Fields []fieldReport `json:"fields" yaml:"fields"`
}

type validateReport struct {
	Valid      bool               `json:"valid" yaml:"valid"`
	Reason     string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail     string             `json:"detail,omitempty" yaml:"detail,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
	Fields     map[string]any     `json:"fields,omitempty" yaml:"fields,omitempty"`
	Document   string             `json:"document_error,omitempty" yaml:"document_error,omitempty"`
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and test extraction schemas",
		Long: `Inspect and test extraction schemas.

A schema is a YAML or JSON file listing the fields to extract, or the name
of a built-in schema.

Examples:
  tabextract schema list
  tabextract schema check ./fields.yaml
  tabextract schema validate epilepsy answer.json
  tabextract schema jsonschema epilepsy`,
	}
	cmd.AddCommand(newSchemaListCmd(), newSchemaCheckCmd(), newSchemaValidateCmd(), newSchemaJSONSchemaCmd())
	return cmd
}

func newSchemaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			return svc.Printer.Print(map[string][]string{"schemas": schema.Builtins()})
		},
	}
}

func newSchemaCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <schema>",
		Short: "Load a schema and print its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			s, err := schema.Resolve(args[0])
			if err != nil {
				return err
			}
			report := schemaReport{Name: s.Name, Hash: s.Hash()}
			for _, f := range s.Fields {
				report.Fields = append(report.Fields, fieldReport{
					Name:        f.Name,
					Type:        string(f.Type),
					Required:    f.Required,
					Constraints: f.Describe(),
					Description: f.Description,
				})
			}
			return svc.Printer.Print(report)
		},
	}
}

func newSchemaValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <schema> <answer.json|->",
		Short: "Check a model answer against a schema",
		Long: `Check a model answer against a schema the same way a run does.

The answer may be wrapped in prose or a code fence; the first JSON object
is used. Exits non-zero when the answer would be rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			s, err := schema.Resolve(args[0])
			if err != nil {
				return err
			}
			raw, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			mode := schema.Lenient
			if strict || !svc.Config.Get().Validation.Lenient {
				mode = schema.Strict
			}
			out := extract.ParseAndValidate(string(raw), s, mode)
			report := validateReport{
				Valid:      out.Valid(),
				Reason:     string(out.Reason),
				Detail:     out.Detail,
				Violations: out.Violations,
				Fields:     out.Fields,
			}
			if out.Valid() {
				if b, err := json.Marshal(out.Fields); err == nil {
					if err := s.ValidateDocument(b); err != nil {
						report.Document = err.Error()
					}
				}
			}
			if err := svc.Printer.Print(report); err != nil {
				return err
			}
			if !out.Valid() {
				return errInvalidAnswer
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "disable lenient coercion (\"yes\" for booleans, \"5 mg\" for numbers)")
	return cmd
}

func newSchemaJSONSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jsonschema <schema>",
		Short: "Print the JSON Schema sent to the model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := schema.Resolve(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s.JSONSchemaMap())
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}
