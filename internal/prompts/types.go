// Package prompts builds the model requests for record extraction.
//
// Templates are Twig files embedded in the binary. Either template can be
// replaced by a file on disk; the resolver records which text was used so
// every request can be traced back to the exact prompt by hash.
package prompts

import (
	"encoding/json"

	"github.com/jackzampolin/tabextract/internal/schema"
)

// Prompt keys
const (
	SystemPromptKey = "extract.system"
	UserPromptKey   = "extract.user"
)

// Prior reasons, matching the failure reasons of an attempt.
const (
	ReasonTransport       = "transport_error"
	ReasonUnparseable     = "unparseable"
	ReasonSchemaViolation = "schema_violation"
)

// Request is a fully rendered model call for one attempt on one row.
type Request struct {
	RowIndex   int             `json:"row_index"`
	Attempt    int             `json:"attempt"`
	System     string          `json:"system"`
	User       string          `json:"user"`
	SchemaName string          `json:"schema_name"`
	Schema     json.RawMessage `json:"schema"`
	// Hash identifies the rendered prompt text.
	Hash string `json:"hash"`
}

// Prior describes why the previous attempt failed.
type Prior struct {
	Reason     string
	Raw        string
	Violations []schema.Violation
	Message    string
}

// EmbeddedPrompt represents a prompt loaded from an embedded .twig file.
type EmbeddedPrompt struct {
	Key         string   // extract.system
	Text        string   // Twig template
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 of Text
}

// ResolvedPrompt is the template text in effect for a key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	Hash       string   `json:"hash"`
	IsOverride bool     `json:"is_override"`
	Source     string   `json:"source"`
}
