package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/tabextract/internal/prompts"
)

// LLMClient sends one rendered extraction request to a model.
// Implementations make exactly one call per Invoke and never retry;
// retries belong to the caller.
type LLMClient interface {
	// Invoke returns the raw completion text. Network failures, timeouts and
	// non-success responses are reported as *TransportError.
	Invoke(ctx context.Context, req *prompts.Request) (*Result, error)

	// Name returns the client identifier (e.g., "ollama").
	Name() string

	// Model returns the model the client sends requests to.
	Model() string
}

// HealthChecker is implemented by clients that can verify their backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Result is the raw response from one model call.
type Result struct {
	Content string `json:"content"`

	// Token counts, when the backend reports them
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
}

// TransportError is a failure to obtain any completion text.
type TransportError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func transportError(provider string, status int, err error) *TransportError {
	return &TransportError{
		Provider:   provider,
		StatusCode: status,
		Timeout:    isTimeout(err),
		Err:        err,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
