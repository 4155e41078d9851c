package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/batch"
	"github.com/jackzampolin/tabextract/internal/checkpoint"
	"github.com/jackzampolin/tabextract/internal/config"
	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/llmcall"
	"github.com/jackzampolin/tabextract/internal/logging"
	"github.com/jackzampolin/tabextract/internal/metrics"
	"github.com/jackzampolin/tabextract/internal/prompts"
	"github.com/jackzampolin/tabextract/internal/providers"
	"github.com/jackzampolin/tabextract/internal/schema"
	"github.com/jackzampolin/tabextract/internal/sink"
	"github.com/jackzampolin/tabextract/internal/svcctx"
	"github.com/jackzampolin/tabextract/internal/table"
)

type runOptions struct {
	schema      string
	output      string
	checkpoint  string
	provider    string
	groupBy     string
	sheet       string
	reset       bool
	concurrency int
	maxAttempts int
	timeout     time.Duration
	dryRun      bool
	trace       bool
}

// runReport is printed when a run ends.
type runReport struct {
	Input      string        `json:"input" yaml:"input"`
	Output     string        `json:"output" yaml:"output"`
	Checkpoint string        `json:"checkpoint" yaml:"checkpoint"`
	Trace      string        `json:"trace,omitempty" yaml:"trace,omitempty"`
	RunID      string        `json:"run_id" yaml:"run_id"`
	Schema     string        `json:"schema" yaml:"schema"`
	Provider   string        `json:"provider" yaml:"provider"`
	Model      string        `json:"model" yaml:"model"`
	Elapsed    string        `json:"elapsed" yaml:"elapsed"`
	Cursor     int           `json:"cursor" yaml:"cursor"`
	Summary    batch.Summary `json:"summary" yaml:"summary"`
}

// dryRunReport shows the first prompt without calling a model.
type dryRunReport struct {
	Input    string `json:"input" yaml:"input"`
	Rows     int    `json:"rows" yaml:"rows"`
	Schema   string `json:"schema" yaml:"schema"`
	Row      int    `json:"row" yaml:"row"`
	System   string `json:"system" yaml:"system"`
	User     string `json:"user" yaml:"user"`
	Template string `json:"template_hash" yaml:"template_hash"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Extract schema fields for every row of a table",
		Long: `Run extraction over every row of a CSV, TSV or XLSX file.

Each row is sent to the configured model with the schema, the answer is
validated, and failed answers are retried with repair feedback up to
retry.max_attempts times. Rows that never validate are kept in the output
with extraction_status=failed and the reason in extraction_detail.

Every finished row is appended to a checkpoint. Running the same command
again skips rows that already finished; --reset starts over.

Examples:
  tabextract run reports.tsv --schema epilepsy
  tabextract run reports.csv --schema ./fields.yaml --concurrency 4
  tabextract run reports.xlsx --schema epilepsy --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.schema, "schema", "s", "", "schema file or built-in name (default: defaults.schema)")
	f.StringVarP(&opts.output, "output", "o", "", "output table (default: <input>_structured.<ext>)")
	f.StringVar(&opts.checkpoint, "checkpoint", "", "checkpoint file (default: <home>/checkpoints/<input>-<hash>.jsonl)")
	f.StringVar(&opts.provider, "provider", "", "provider name from config (default: defaults.provider)")
	f.StringVar(&opts.groupBy, "group-by", "", "merge rows sharing this column (default: table.group_by)")
	f.StringVar(&opts.sheet, "sheet", "", "XLSX sheet to read (default: first sheet)")
	f.BoolVar(&opts.reset, "reset", false, "discard an existing checkpoint and start over")
	f.IntVarP(&opts.concurrency, "concurrency", "c", 0, "rows processed in parallel (default: batch.concurrency)")
	f.IntVar(&opts.maxAttempts, "max-attempts", 0, "model calls per row (default: retry.max_attempts)")
	f.DurationVar(&opts.timeout, "timeout", 0, "stop the run after this long (default: batch.run_timeout)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the first prompt and exit without calling a model")
	f.BoolVar(&opts.trace, "trace", false, "record every model call to a trace file (default: batch.trace)")
	return cmd
}

// applyFlags overlays command-line overrides on a copy of the config.
func (o *runOptions) applyFlags(cfg config.Config) config.Config {
	if o.schema != "" {
		cfg.Defaults.Schema = o.schema
	}
	if o.provider != "" {
		cfg.Defaults.Provider = o.provider
	}
	if o.groupBy != "" {
		cfg.Table.GroupBy = o.groupBy
	}
	if o.sheet != "" {
		cfg.Table.Sheet = o.sheet
	}
	if o.concurrency > 0 {
		cfg.Batch.Concurrency = o.concurrency
	}
	if o.maxAttempts > 0 {
		cfg.Retry.MaxAttempts = o.maxAttempts
	}
	if o.timeout > 0 {
		cfg.Batch.RunTimeout = config.Duration(o.timeout)
	}
	if o.trace {
		cfg.Batch.Trace = true
	}
	return cfg
}

// loadTable reads the input and applies grouping.
func loadTable(input string, cfg config.Config) (*table.Table, error) {
	readOpts := table.ReadOptions{Sheet: cfg.Table.Sheet}
	if cfg.Table.Delimiter != "" {
		readOpts.Delimiter, _ = utf8.DecodeRuneInString(cfg.Table.Delimiter)
	}
	t, err := table.Read(input, readOpts)
	if err != nil {
		return nil, err
	}
	if cfg.Table.GroupBy != "" {
		t, err = table.GroupBy(t, cfg.Table.GroupBy, cfg.Prompt.TextColumns)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", table.ErrMalformed, err)
		}
	}
	return t, nil
}

// checkpointIdentity salts the input file hash with the settings that change
// row content or prompts, so a checkpoint only resumes under the same ones.
func checkpointIdentity(fileHash string, cfg config.Config) string {
	var salt []string
	if cfg.Table.GroupBy != "" {
		salt = append(salt, "group_by="+cfg.Table.GroupBy)
	}
	if len(cfg.Prompt.TextColumns) > 0 {
		salt = append(salt, "text_columns="+strings.Join(cfg.Prompt.TextColumns, ","))
	}
	if len(salt) == 0 {
		return fileHash
	}
	return prompts.HashText(fileHash + "\x00" + strings.Join(salt, "\x00"))
}

func newBuilder(cfg config.Config, logger *slog.Logger) (*prompts.Builder, error) {
	return prompts.NewBuilder(prompts.BuilderConfig{
		TextColumns:    cfg.Prompt.TextColumns,
		MaxPriorChars:  cfg.Retry.MaxPriorChars,
		SystemTemplate: cfg.Prompt.SystemTemplate,
		UserTemplate:   cfg.Prompt.UserTemplate,
		Logger:         logging.Component(logger, "prompts"),
	})
}

func runExtract(cmd *cobra.Command, input string, opts *runOptions) error {
	svc, err := mustServices(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := svc.Logger.Logger
	cfg := opts.applyFlags(*svc.Config.Get())

	if cfg.Defaults.Schema == "" {
		return fmt.Errorf("no schema given: pass --schema or set defaults.schema (built-in: %v)", schema.Builtins())
	}
	s, err := schema.Resolve(cfg.Defaults.Schema)
	if err != nil {
		return err
	}

	t, err := loadTable(input, cfg)
	if err != nil {
		return err
	}
	logger.Info("loaded input", "file", input, "rows", len(t.Rows), "columns", len(t.Columns), "schema", s.Name)

	builder, err := newBuilder(cfg, logger)
	if err != nil {
		return err
	}

	if opts.dryRun {
		return dryRun(svc, input, t, s, builder)
	}

	client, err := svc.Registry.GetLLM(cfg.Defaults.Provider)
	if err != nil {
		return fmt.Errorf("provider %q: %w", cfg.Defaults.Provider, err)
	}
	if err := providers.WaitReady(ctx, client, cfg.Batch.ReadyTimeout.Std()); err != nil {
		return err
	}

	fileHash, err := checkpoint.HashFile(input)
	if err != nil {
		return fmt.Errorf("%w: %v", checkpoint.ErrStoreUnavailable, err)
	}
	inputHash := checkpointIdentity(fileHash, cfg)
	ckptPath := opts.checkpoint
	if ckptPath == "" {
		ckptPath = checkpoint.DefaultPath(cfg.CheckpointDir(svc.Home), input, inputHash)
	}
	store, err := checkpoint.OpenFile(ctx, checkpoint.FileConfig{
		Path:       ckptPath,
		Input:      input,
		InputHash:  inputHash,
		SchemaHash: s.Hash(),
		Reset:      opts.reset,
		Logger:     logging.Component(logger, "checkpoint"),
	})
	if err != nil {
		return err
	}
	defer store.Close()
	runID := store.Header().RunID

	var (
		attemptObservers []extract.Observer
		rowObservers     []batch.RowObserver
		tracePath        string
	)

	if cfg.Batch.Trace {
		tracePath = svc.Home.TracePath(ckptPath)
		traceSink, err := sink.Open(sink.Config{Path: tracePath, Logger: logging.Component(logger, "trace")})
		if err != nil {
			return err
		}
		defer traceSink.Stop()
		attemptObservers = append(attemptObservers, llmcall.NewRecorder(traceSink, llmcall.RecordOptions{
			RunID:      runID,
			SchemaName: s.Name,
		}))
	}

	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		attemptObservers = append(attemptObservers, m)
		rowObservers = append(rowObservers, m)
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := m.Serve(metricsCtx, cfg.Metrics.Addr, logging.Component(logger, "metrics")); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if !cmd.Flag("log-level").Changed {
		svc.Config.OnChange(func(c *config.Config) {
			svc.Logger.SetLevel(c.Log.Level)
		})
		svc.Config.WatchConfig()
	}

	mode := schema.Strict
	if cfg.Validation.Lenient {
		mode = schema.Lenient
	}
	ctrl, err := extract.NewController(extract.Config{
		Client:         client,
		Builder:        builder,
		Schema:         s,
		Policy:         cfg.RetryPolicy(),
		Mode:           mode,
		RequestTimeout: cfg.Providers[cfg.Defaults.Provider].Timeout.Std(),
		Observers:      attemptObservers,
		Logger:         logging.Component(logger, "extract"),
	})
	if err != nil {
		return err
	}

	orch, err := batch.New(batch.Config{
		Extractor:   ctrl,
		Store:       store,
		Concurrency: cfg.Batch.Concurrency,
		Observers:   rowObservers,
		Logger:      logging.Component(logger, "batch").With("run_id", runID),
	})
	if err != nil {
		return err
	}

	runCtx := ctx
	if d := cfg.Batch.RunTimeout.Std(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	state, runErr := orch.Run(runCtx, t.Rows, s)
	if runErr != nil && !errors.Is(runErr, extract.ErrInterrupted) {
		return runErr
	}

	// The output is written even for an interrupted run; unfinished rows
	// are marked pending.
	outPath := opts.output
	if outPath == "" {
		outPath = table.OutputPath(input)
	}
	if err := table.Write(outPath, batch.Project(t, state, s), ""); err != nil {
		return err
	}

	report := runReport{
		Input:      input,
		Output:     outPath,
		Checkpoint: ckptPath,
		Trace:      tracePath,
		RunID:      runID,
		Schema:     s.Name,
		Provider:   cfg.Defaults.Provider,
		Model:      client.Model(),
		Elapsed:    time.Since(start).Round(time.Millisecond).String(),
		Cursor:     state.Cursor(),
		Summary:    state.Summary(),
	}
	if err := svc.Printer.Print(report); err != nil {
		return err
	}
	return runErr
}

func dryRun(svc *svcctx.Services, input string, t *table.Table, s *schema.Schema, builder *prompts.Builder) error {
	if len(t.Rows) == 0 {
		return fmt.Errorf("%s has no rows", input)
	}
	req, err := builder.Build(t.Rows[0], s, 1, nil)
	if err != nil {
		return err
	}
	tmpl, err := builder.Resolver().Resolve(prompts.UserPromptKey)
	if err != nil {
		return err
	}
	return svc.Printer.Print(dryRunReport{
		Input:    input,
		Rows:     len(t.Rows),
		Schema:   s.Name,
		Row:      t.Rows[0].Index,
		System:   req.System,
		User:     req.User,
		Template: tmpl.Hash,
	})
}
