// Package llmcall records every model attempt for traceability.
// Each attempt is written with its prompt hash, raw response and verdict.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/schema"
)

// Call represents one recorded model attempt.
type Call struct {
	// Unique identifier
	ID string `json:"id" yaml:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	LatencyMs int       `json:"latency_ms" yaml:"latency_ms"`

	// Context references
	RunID    string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	RowIndex int    `json:"row" yaml:"row"`
	Attempt  int    `json:"attempt" yaml:"attempt"`

	// Prompt traceability
	PromptHash string `json:"prompt_hash" yaml:"prompt_hash"`
	SchemaName string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Model info
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`

	// Token usage
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`

	// Response
	Response string `json:"response" yaml:"response"`

	// Status
	Success    bool               `json:"success" yaml:"success"`
	Reason     string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
}

// RecordOptions provides context for recording calls.
type RecordOptions struct {
	RunID      string
	SchemaName string
}

// FromEvent creates a Call from a finished attempt.
func FromEvent(e extract.AttemptEvent, opts RecordOptions) *Call {
	return &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		LatencyMs:    int(e.Latency.Milliseconds()),
		RunID:        opts.RunID,
		RowIndex:     e.RowIndex,
		Attempt:      e.Attempt,
		PromptHash:   e.PromptHash,
		SchemaName:   opts.SchemaName,
		Provider:     e.Provider,
		Model:        e.Model,
		InputTokens:  e.PromptTokens,
		OutputTokens: e.CompletionTokens,
		Response:     e.Raw,
		Success:      e.Reason == "",
		Reason:       string(e.Reason),
		Error:        e.Detail,
		Violations:   e.Violations,
	}
}
