// Package extract turns one table row into validated structured fields,
// retrying with repair feedback until the model answers correctly or the
// attempt budget runs out.
package extract

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/tabextract/internal/schema"
)

// Reason classifies a failed attempt.
type Reason string

const (
	ReasonTransport       Reason = "transport_error"
	ReasonUnparseable     Reason = "unparseable"
	ReasonSchemaViolation Reason = "schema_violation"
)

// Status is the terminal state of a row.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
)

// Result is the terminal outcome for one row. Fields holds typed values
// (string, int64, float64, bool) only when Status is StatusSucceeded.
type Result struct {
	Status     Status             `json:"status"`
	Fields     map[string]any     `json:"fields,omitempty"`
	Reason     Reason             `json:"reason,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty"`
	LastRaw    string             `json:"last_raw,omitempty"`
	Attempts   int                `json:"attempts"`
}

// Succeeded reports whether the row produced valid fields.
func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

// Summary renders the failure as "<reason> after <n> attempts: <detail>".
// It is empty for successful rows.
func (r Result) Summary() string {
	if r.Succeeded() {
		return ""
	}
	noun := "attempts"
	if r.Attempts == 1 {
		noun = "attempt"
	}
	detail := r.Detail
	if r.Reason == ReasonSchemaViolation && len(r.Violations) > 0 {
		parts := make([]string, len(r.Violations))
		for i, v := range r.Violations {
			parts[i] = v.String()
		}
		detail = strings.Join(parts, "; ")
	}
	if detail == "" {
		return fmt.Sprintf("%s after %d %s", r.Reason, r.Attempts, noun)
	}
	return fmt.Sprintf("%s after %d %s: %s", r.Reason, r.Attempts, noun, detail)
}

// Outcome is the verdict on a single model response.
type Outcome struct {
	Fields     map[string]any
	Reason     Reason // empty when valid
	Violations []schema.Violation
	Detail     string
	Raw        string
}

// Valid reports whether the response was accepted.
func (o Outcome) Valid() bool { return o.Reason == "" }
