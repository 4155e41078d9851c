package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/tabextract/internal/prompts"
	"github.com/jackzampolin/tabextract/internal/providers"
	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/table"
)

// ErrInterrupted is returned when cancellation stops a row before it reached
// a terminal state. Such rows must not be recorded as finished.
var ErrInterrupted = errors.New("extraction interrupted")

// DefaultRequestTimeout bounds a single model call.
const DefaultRequestTimeout = 120 * time.Second

// Backoff selects how the wait between attempts grows.
type Backoff string

const (
	BackoffFixed  Backoff = "fixed"
	BackoffLinear Backoff = "linear"
)

// Policy is the retry budget for one row.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns three attempts with linear backoff from 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     BackoffLinear,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the wait after failed attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if p.Backoff == BackoffLinear {
		d = p.BaseDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Phase is the state of a row inside the controller.
type Phase int

const (
	PhasePending Phase = iota
	PhaseAttempting
	PhaseSucceeded
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseAttempting:
		return "attempting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// rowState is the controller's per-row state. Attempt is only meaningful
// while attempting or once terminal; Last holds the latest verdict.
type rowState struct {
	phase   Phase
	attempt int
	last    Outcome
}

// AttemptEvent describes one finished model call.
type AttemptEvent struct {
	RowIndex         int
	Attempt          int
	PromptHash       string
	Provider         string
	Model            string
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
	Raw              string
	Reason           Reason // empty when the response was accepted
	Detail           string
	Violations       []schema.Violation
}

// Observer receives every attempt. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveAttempt(AttemptEvent)
}

// PromptBuilder renders the request for an attempt.
type PromptBuilder interface {
	Build(row table.Row, s *schema.Schema, attempt int, prior *prompts.Prior) (*prompts.Request, error)
}

// Config configures a Controller.
type Config struct {
	Client         providers.LLMClient
	Builder        PromptBuilder
	Schema         *schema.Schema
	Policy         Policy
	Mode           schema.Mode
	RequestTimeout time.Duration
	Observers      []Observer
	Logger         *slog.Logger
}

// Controller runs the attempt loop for single rows. It holds no per-row
// state and is safe for concurrent use.
type Controller struct {
	client    providers.LLMClient
	builder   PromptBuilder
	schema    *schema.Schema
	policy    Policy
	mode      schema.Mode
	timeout   time.Duration
	observers []Observer
	logger    *slog.Logger
}

// NewController validates cfg and builds a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Client == nil {
		return nil, errors.New("extract: client is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("extract: prompt builder is required")
	}
	if cfg.Schema == nil {
		return nil, errors.New("extract: schema is required")
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("extract: max attempts must be at least 1, got %d", cfg.Policy.MaxAttempts)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		client:    cfg.Client,
		builder:   cfg.Builder,
		schema:    cfg.Schema,
		policy:    cfg.Policy,
		mode:      cfg.Mode,
		timeout:   cfg.RequestTimeout,
		observers: cfg.Observers,
		logger:    cfg.Logger,
	}, nil
}

// Schema returns the schema rows are validated against.
func (c *Controller) Schema() *schema.Schema { return c.schema }

// Extract drives one row to a terminal result.
//
// Every attempt is one model call. A valid response ends the row as
// succeeded; otherwise the next attempt carries the failure as repair
// feedback, until Policy.MaxAttempts calls have been made and the row ends
// as exhausted with the last failure.
//
// Cancelling ctx stops new attempts and backoff waits, and Extract returns
// ErrInterrupted. A call already in flight is allowed to finish (bounded by
// the request timeout) and its result is kept if it makes the row terminal.
// Any other error is fatal for the run.
func (c *Controller) Extract(ctx context.Context, row table.Row) (Result, error) {
	state := rowState{phase: PhasePending}
	var prior *prompts.Prior

	for {
		switch state.phase {
		case PhasePending:
			state = rowState{phase: PhaseAttempting, attempt: 1}

		case PhaseAttempting:
			if ctx.Err() != nil {
				return Result{Attempts: state.attempt - 1}, ErrInterrupted
			}
			outcome, err := c.attempt(ctx, row, state.attempt, prior)
			if err != nil {
				return Result{}, err
			}
			state.last = outcome

			switch {
			case outcome.Valid():
				state.phase = PhaseSucceeded
			case state.attempt >= c.policy.MaxAttempts:
				state.phase = PhaseExhausted
			default:
				// A transport failure carries no answer to repair, so the
				// last validator failure stays the repair seed.
				if outcome.Reason != ReasonTransport {
					prior = &prompts.Prior{
						Reason:     string(outcome.Reason),
						Raw:        outcome.Raw,
						Violations: outcome.Violations,
						Message:    outcome.Detail,
					}
				}
				if !sleep(ctx, c.policy.Delay(state.attempt)) {
					return Result{Attempts: state.attempt}, ErrInterrupted
				}
				state.attempt++
			}

		case PhaseSucceeded:
			return Result{
				Status:   StatusSucceeded,
				Fields:   state.last.Fields,
				LastRaw:  state.last.Raw,
				Attempts: state.attempt,
			}, nil

		case PhaseExhausted:
			c.logger.Debug("row exhausted",
				"row", row.Index,
				"attempts", state.attempt,
				"reason", state.last.Reason)
			return Result{
				Status:     StatusExhausted,
				Reason:     state.last.Reason,
				Detail:     state.last.Detail,
				Violations: state.last.Violations,
				LastRaw:    state.last.Raw,
				Attempts:   state.attempt,
			}, nil
		}
	}
}

func (c *Controller) attempt(ctx context.Context, row table.Row, n int, prior *prompts.Prior) (Outcome, error) {
	req, err := c.builder.Build(row, c.schema, n, prior)
	if err != nil {
		return Outcome{}, fmt.Errorf("row %d: %w", row.Index, err)
	}

	// The call outlives cancellation of ctx so an answer already being
	// generated is not thrown away; the timeout still bounds it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	res, err := c.client.Invoke(callCtx, req)
	latency := time.Since(start)

	var outcome Outcome
	event := AttemptEvent{
		RowIndex:   row.Index,
		Attempt:    n,
		PromptHash: req.Hash,
		Provider:   c.client.Name(),
		Model:      c.client.Model(),
		Latency:    latency,
	}
	if err != nil {
		outcome = Outcome{Reason: ReasonTransport, Detail: err.Error()}
	} else {
		outcome = ParseAndValidate(res.Content, c.schema, c.mode)
		event.PromptTokens = res.PromptTokens
		event.CompletionTokens = res.CompletionTokens
		if res.ModelUsed != "" {
			event.Model = res.ModelUsed
		}
	}
	event.Raw = outcome.Raw
	event.Reason = outcome.Reason
	event.Detail = outcome.Detail
	event.Violations = outcome.Violations

	c.logger.Debug("attempt finished",
		"row", row.Index,
		"attempt", n,
		"reason", outcome.Reason,
		"latency", latency)
	for _, o := range c.observers {
		o.ObserveAttempt(event)
	}
	return outcome, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
