package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tabextract/internal/checkpoint"
	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/prompts"
	"github.com/jackzampolin/tabextract/internal/providers"
	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/table"
)

func sentiment(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Get("sentiment")
	require.NoError(t, err)
	return s
}

func reviews(t *testing.T, n int) *table.Table {
	t.Helper()
	records := make([][]string, n)
	for i := range records {
		records[i] = []string{fmt.Sprint(i), fmt.Sprintf("review number %d", i)}
	}
	tbl, err := table.New([]string{"id", "review"}, records)
	require.NoError(t, err)
	return tbl
}

// scriptedMock answers each row according to i%4: valid, repaired on the
// second attempt, always violating, or prose.
func scriptedMock(n int) *providers.MockClient {
	m := providers.NewMockClient(`{"sentiment":"neutral"}`)
	m.ByRow = make(map[int][]providers.MockResponse, n)
	for i := 0; i < n; i++ {
		switch i % 4 {
		case 0:
			m.ByRow[i] = []providers.MockResponse{{Content: `{"sentiment":"positive","confidence":0.75}`}}
		case 1:
			m.ByRow[i] = []providers.MockResponse{{Content: `{"sentiment":"great"}`}, {Content: `{"sentiment":"negative"}`}}
		case 2:
			m.ByRow[i] = []providers.MockResponse{{Content: `{"sentiment":"great"}`}}
		case 3:
			m.ByRow[i] = []providers.MockResponse{{Content: "I would say it is positive."}}
		}
	}
	return m
}

func newOrchestrator(t *testing.T, client providers.LLMClient, store checkpoint.Store, concurrency int, wrap func(Extractor) Extractor) *Orchestrator {
	t.Helper()
	b, err := prompts.NewBuilder(prompts.BuilderConfig{})
	require.NoError(t, err)
	c, err := extract.NewController(extract.Config{
		Client:  client,
		Builder: b,
		Schema:  sentiment(t),
		Policy:  extract.Policy{MaxAttempts: 3, Backoff: extract.BackoffFixed},
		Mode:    schema.Lenient,
	})
	require.NoError(t, err)

	var ex Extractor = c
	if wrap != nil {
		ex = wrap(c)
	}
	o, err := New(Config{Extractor: ex, Store: store, Concurrency: concurrency})
	require.NoError(t, err)
	return o
}

func TestRunOneResultPerRow(t *testing.T) {
	tbl := reviews(t, 8)
	mock := scriptedMock(8)
	store := checkpoint.NewMemoryStore()
	o := newOrchestrator(t, mock, store, 3, nil)

	state, err := o.Run(context.Background(), tbl.Rows, sentiment(t))
	require.NoError(t, err)

	results := state.Results()
	require.Len(t, results, 8)
	assert.Equal(t, 7, state.Cursor())
	assert.Equal(t, 8, store.Appends())

	for i := 0; i < 8; i++ {
		r := results[i]
		switch i % 4 {
		case 0:
			assert.True(t, r.Succeeded())
			assert.Equal(t, 1, r.Attempts)
			assert.Equal(t, 0.75, r.Fields["confidence"])
		case 1:
			assert.True(t, r.Succeeded())
			assert.Equal(t, 2, r.Attempts)
			assert.Equal(t, "negative", r.Fields["sentiment"])
		case 2:
			assert.Equal(t, extract.ReasonSchemaViolation, r.Reason)
			assert.Equal(t, 3, r.Attempts)
		case 3:
			assert.Equal(t, extract.ReasonUnparseable, r.Reason)
			assert.Equal(t, 3, r.Attempts)
		}
	}

	sum := state.Summary()
	assert.Equal(t, Summary{
		Rows: 8, Succeeded: 4, Failed: 4, Attempts: 2 * (1 + 2 + 3 + 3),
		Failures: map[string]int{"schema_violation": 2, "unparseable": 2},
	}, sum)

	out := Project(tbl, state, sentiment(t))
	require.Len(t, out.Rows, len(tbl.Rows))
	for i, r := range out.Rows {
		assert.Equal(t, i, r.Index)
		id, _ := r.Get("id")
		assert.Equal(t, fmt.Sprint(i), id)
	}
}

func TestRunResumeSkipsFinalizedRows(t *testing.T) {
	tbl := reviews(t, 4)
	store := checkpoint.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, checkpoint.Record{Index: 0, Result: extract.Result{
		Status:   extract.StatusSucceeded,
		Fields:   map[string]any{"sentiment": "neutral", "confidence": json.Number("0.5")},
		Attempts: 1,
	}}))
	require.NoError(t, store.Append(ctx, checkpoint.Record{Index: 2, Result: extract.Result{
		Status:   extract.StatusExhausted,
		Reason:   extract.ReasonUnparseable,
		Attempts: 3,
	}}))

	mock := scriptedMock(4)
	o := newOrchestrator(t, mock, store, 2, nil)
	state, err := o.Run(ctx, tbl.Rows, sentiment(t))
	require.NoError(t, err)

	assert.Empty(t, mock.RequestsForRow(0))
	assert.Empty(t, mock.RequestsForRow(2))
	assert.NotEmpty(t, mock.RequestsForRow(1))
	assert.NotEmpty(t, mock.RequestsForRow(3))

	r0, ok := state.Result(0)
	require.True(t, ok)
	assert.Equal(t, 0.5, r0.Fields["confidence"])
	assert.Equal(t, 2, state.Summary().Resumed)
	assert.Len(t, state.Results(), 4)
}

// cancelAt cancels the run just before it starts the given row.
type cancelAt struct {
	inner  Extractor
	row    int
	cancel context.CancelFunc
}

func (c cancelAt) Extract(ctx context.Context, row table.Row) (extract.Result, error) {
	if row.Index == c.row {
		c.cancel()
	}
	return c.inner.Extract(ctx, row)
}

func TestRunInterruptAndResume(t *testing.T) {
	tbl := reviews(t, 6)
	path := filepath.Join(t.TempDir(), "run.jsonl")
	cfg := checkpoint.FileConfig{Path: path, InputHash: "in", SchemaHash: sentiment(t).Hash()}

	store, err := checkpoint.OpenFile(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first := scriptedMock(6)
	o := newOrchestrator(t, first, store, 1, func(e Extractor) Extractor {
		return cancelAt{inner: e, row: 3, cancel: cancel}
	})
	state, err := o.Run(ctx, tbl.Rows, sentiment(t))
	require.ErrorIs(t, err, extract.ErrInterrupted)
	assert.Equal(t, 2, state.Cursor())
	assert.Equal(t, []int{3, 4, 5}, state.Pending())
	assert.Empty(t, first.RequestsForRow(3))
	require.NoError(t, store.Close())

	store, err = checkpoint.OpenFile(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	second := scriptedMock(6)
	o = newOrchestrator(t, second, store, 1, nil)
	state, err = o.Run(context.Background(), tbl.Rows, sentiment(t))
	require.NoError(t, err)
	assert.Equal(t, 5, state.Cursor())
	for i := 0; i < 3; i++ {
		assert.Empty(t, second.RequestsForRow(i), "row %d should not be re-queried", i)
	}
	for i := 3; i < 6; i++ {
		assert.NotEmpty(t, second.RequestsForRow(i))
	}

	// Row 0 came back from disk with its float field re-typed.
	r0, _ := state.Result(0)
	assert.Equal(t, 0.75, r0.Fields["confidence"])
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	const n = 24
	tbl := reviews(t, n)

	run := func(concurrency int) map[int]extract.Result {
		o := newOrchestrator(t, scriptedMock(n), checkpoint.NewMemoryStore(), concurrency, nil)
		state, err := o.Run(context.Background(), tbl.Rows, sentiment(t))
		require.NoError(t, err)
		return state.Results()
	}

	sequential := run(1)
	for _, k := range []int{2, 5, n} {
		assert.Equal(t, sequential, run(k), "concurrency %d", k)
	}
}

type countingObserver struct {
	mu   sync.Mutex
	rows map[int]extract.Status
}

func (c *countingObserver) ObserveRow(index int, res extract.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[index] = res.Status
}

func TestRunObserversAndStoreFailure(t *testing.T) {
	tbl := reviews(t, 4)

	obs := &countingObserver{rows: map[int]extract.Status{}}
	b, _ := prompts.NewBuilder(prompts.BuilderConfig{})
	c, err := extract.NewController(extract.Config{Client: scriptedMock(4), Builder: b, Schema: sentiment(t), Policy: extract.Policy{MaxAttempts: 1}})
	require.NoError(t, err)
	o, err := New(Config{Extractor: c, Store: checkpoint.NewMemoryStore(), Observers: []RowObserver{obs}})
	require.NoError(t, err)
	_, err = o.Run(context.Background(), tbl.Rows, sentiment(t))
	require.NoError(t, err)
	assert.Len(t, obs.rows, 4)
	assert.Equal(t, extract.StatusSucceeded, obs.rows[0])

	failing := checkpoint.NewMemoryStore()
	failing.FailAppend = checkpoint.ErrStoreUnavailable
	o = newOrchestrator(t, scriptedMock(4), failing, 2, nil)
	state, err := o.Run(context.Background(), tbl.Rows, sentiment(t))
	assert.ErrorIs(t, err, checkpoint.ErrStoreUnavailable)
	assert.Empty(t, state.Results(), "unpersisted results must not be reported")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Store: checkpoint.NewMemoryStore()})
	assert.Error(t, err)
	_, err = New(Config{Extractor: cancelAt{}})
	assert.Error(t, err)
}
