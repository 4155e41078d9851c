package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/llmcall"
)

func newTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded model calls",
		Long: `Inspect the model calls recorded by 'tabextract run --trace'.

Trace files live in ~/.tabextract/traces and are named after the
checkpoint they belong to.

Examples:
  tabextract trace list ~/.tabextract/traces/reports-3f2a.trace.jsonl --row 12
  tabextract trace list reports.trace.jsonl --failed --limit 20
  tabextract trace stats reports.trace.jsonl`,
	}
	cmd.AddCommand(newTraceListCmd(), newTraceShowCmd(), newTraceStatsCmd())
	return cmd
}

type traceFilterFlags struct {
	runID  string
	row    int
	reason string
	failed bool
	limit  int
	offset int
}

func (f *traceFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.runID, "run", "", "only calls from this run ID")
	cmd.Flags().IntVar(&f.row, "row", -1, "only calls for this row index")
	cmd.Flags().StringVar(&f.reason, "reason", "", "only calls rejected for this reason")
	cmd.Flags().BoolVar(&f.failed, "failed", false, "only rejected calls")
}

func (f *traceFilterFlags) filter() llmcall.QueryFilter {
	q := llmcall.QueryFilter{RunID: f.runID, Reason: f.reason, Limit: f.limit, Offset: f.offset}
	if f.row >= 0 {
		row := f.row
		q.Row = &row
	}
	if f.failed {
		ok := false
		q.Success = &ok
	}
	return q
}

func newTraceListCmd() *cobra.Command {
	flags := &traceFilterFlags{}

	cmd := &cobra.Command{
		Use:   "list <trace-file>",
		Short: "List recorded calls, ordered by row and attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			calls, err := llmcall.NewStore(args[0]).List(flags.filter())
			if err != nil {
				return err
			}
			if calls == nil {
				calls = []llmcall.Call{}
			}
			return svc.Printer.Print(calls)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&flags.limit, "limit", 50, "maximum calls to show (0 for all)")
	cmd.Flags().IntVar(&flags.offset, "offset", 0, "skip this many calls")
	return cmd
}

func newTraceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <trace-file> <call-id>",
		Short: "Show one recorded call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			call, err := llmcall.NewStore(args[0]).Get(args[1])
			if err != nil {
				return err
			}
			if call == nil {
				return fmt.Errorf("call %s not found in %s", args[1], args[0])
			}
			return svc.Printer.Print(call)
		},
	}
}

func newTraceStatsCmd() *cobra.Command {
	flags := &traceFilterFlags{}

	cmd := &cobra.Command{
		Use:   "stats <trace-file>",
		Short: "Summarize recorded calls by outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			calls, err := llmcall.NewStore(args[0]).List(flags.filter())
			if err != nil {
				return err
			}
			return svc.Printer.Print(llmcall.Summarize(calls))
		},
	}
	flags.register(cmd)
	return cmd
}
