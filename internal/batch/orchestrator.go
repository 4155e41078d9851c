// Package batch runs extraction over every row of a table with bounded
// concurrency, checkpointing each terminal result as it lands.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/tabextract/internal/checkpoint"
	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/table"
)

// Extractor drives one row to a terminal result. *extract.Controller
// implements it.
type Extractor interface {
	Extract(ctx context.Context, row table.Row) (extract.Result, error)
}

// RowObserver is told about every row that reaches a terminal state during
// a run. Implementations must be safe for concurrent use.
type RowObserver interface {
	ObserveRow(index int, res extract.Result)
}

// Config configures an Orchestrator.
type Config struct {
	Extractor   Extractor
	Store       checkpoint.Store
	Concurrency int // default: 1
	Observers   []RowObserver
	Logger      *slog.Logger
}

// Orchestrator coordinates extraction across a batch of rows.
type Orchestrator struct {
	extractor   Extractor
	store       checkpoint.Store
	concurrency int
	observers   []RowObserver
	logger      *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Extractor == nil {
		return nil, errors.New("batch: extractor is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("batch: checkpoint store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		extractor:   cfg.Extractor,
		store:       cfg.Store,
		concurrency: cfg.Concurrency,
		observers:   cfg.Observers,
		logger:      cfg.Logger,
	}, nil
}

// Run extracts every row not already finalized in the store.
//
// Rows are dispatched in input order, at most Concurrency at a time. Each
// terminal result is appended to the store before it enters the returned
// State, so a result that could not be persisted is never reported.
//
// Cancelling ctx stops dispatch at once. Rows already in flight finish their
// current attempt; if that makes them terminal they are recorded, otherwise
// they stay pending for the next run. Run then returns the State together
// with an error wrapping extract.ErrInterrupted.
//
// Any other error (store failure, prompt build failure) is fatal and stops
// the run. The State is returned in every case.
func (o *Orchestrator) Run(ctx context.Context, rows []table.Row, s *schema.Schema) (*State, error) {
	order := make([]int, len(rows))
	for i, r := range rows {
		order[i] = r.Index
	}
	state := newState(order)

	finalized, err := o.store.ListFinalized(ctx)
	if err != nil {
		return state, fmt.Errorf("%w: %v", checkpoint.ErrStoreUnavailable, err)
	}
	for _, r := range rows {
		res, ok := finalized[r.Index]
		if !ok {
			continue
		}
		restored, ok := restore(res, s)
		if !ok {
			o.logger.Warn("checkpointed fields no longer valid, row will be re-extracted", "row", r.Index)
			continue
		}
		state.record(r.Index, restored)
		state.resumed++
	}
	if state.resumed > 0 {
		o.logger.Info("resuming from checkpoint",
			"finalized", state.resumed,
			"remaining", len(rows)-state.resumed,
			"cursor", state.Cursor())
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, r := range rows {
		if state.has(r.Index) {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return o.process(gctx, state, r)
		})
	}
	runErr := g.Wait()

	sum := state.Summary()
	o.logger.Info("batch finished",
		"rows", sum.Rows,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"pending", sum.Pending,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if runErr != nil {
		return state, runErr
	}
	if ctx.Err() != nil && sum.Pending > 0 {
		return state, fmt.Errorf("%d rows pending: %w", sum.Pending, extract.ErrInterrupted)
	}
	return state, nil
}

func (o *Orchestrator) process(ctx context.Context, state *State, row table.Row) error {
	res, err := o.extractor.Extract(ctx, row)
	if errors.Is(err, extract.ErrInterrupted) {
		o.logger.Debug("row interrupted", "row", row.Index)
		return nil
	}
	if err != nil {
		return err
	}

	// The result is terminal; persist it even if the run is being cancelled.
	rec := checkpoint.Record{Index: row.Index, Result: res, RecordedAt: time.Now().UTC()}
	if err := o.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("row %d: %w", row.Index, err)
	}
	state.record(row.Index, res)

	if res.Succeeded() {
		o.logger.Info("row succeeded", "row", row.Index, "attempts", res.Attempts)
	} else {
		o.logger.Warn("row failed", "row", row.Index, "attempts", res.Attempts, "reason", res.Reason, "detail", res.Summary())
	}
	for _, obs := range o.observers {
		obs.ObserveRow(row.Index, res)
	}
	return nil
}

// restore re-types fields read back from a checkpoint, where numbers come
// back as JSON numbers.
func restore(res extract.Result, s *schema.Schema) (extract.Result, bool) {
	if !res.Succeeded() {
		return res, true
	}
	fields, violations := s.Coerce(res.Fields, schema.Strict)
	if len(violations) > 0 {
		return res, false
	}
	res.Fields = fields
	return res, true
}
