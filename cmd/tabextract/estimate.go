package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabextract/internal/table"
)

type estimateReport struct {
	Input   string           `json:"input" yaml:"input"`
	Columns []string         `json:"columns,omitempty" yaml:"columns,omitempty"`
	Tokens  table.TokenStats `json:"tokens" yaml:"tokens"`
	// Largest lists the biggest rows so oversized inputs can be found.
	Largest []rowTokens `json:"largest,omitempty" yaml:"largest,omitempty"`
}

type rowTokens struct {
	Row    int `json:"row" yaml:"row"`
	Tokens int `json:"tokens" yaml:"tokens"`
}

func newEstimateCmd() *cobra.Command {
	var (
		groupBy string
		sheet   string
		top     int
	)

	cmd := &cobra.Command{
		Use:   "estimate <input>",
		Short: "Estimate prompt tokens per row",
		Long: `Estimate how many prompt tokens each row contributes, as three tokens per
whitespace-separated word of the prompt text columns (prompt.text_columns,
or every column when unset). Useful for choosing a model context size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := mustServices(cmd)
			if err != nil {
				return err
			}
			cfg := *svc.Config.Get()
			if groupBy != "" {
				cfg.Table.GroupBy = groupBy
			}
			if sheet != "" {
				cfg.Table.Sheet = sheet
			}

			t, err := loadTable(args[0], cfg)
			if err != nil {
				return err
			}
			cols := cfg.Prompt.TextColumns
			report := estimateReport{
				Input:   args[0],
				Columns: cols,
				Tokens:  table.Estimate(t, cols...),
				Largest: largestRows(t, cols, top),
			}
			return svc.Printer.Print(report)
		},
	}
	cmd.Flags().StringVar(&groupBy, "group-by", "", "merge rows sharing this column before estimating")
	cmd.Flags().StringVar(&sheet, "sheet", "", "XLSX sheet to read")
	cmd.Flags().IntVar(&top, "top", 5, "list this many of the largest rows")
	return cmd
}

func largestRows(t *table.Table, cols []string, n int) []rowTokens {
	if n <= 0 {
		return nil
	}
	var out []rowTokens
	for _, r := range t.Rows {
		rt := rowTokens{Row: r.Index, Tokens: r.EstimateTokens(cols...)}
		// insertion into a short descending list
		i := len(out)
		for i > 0 && out[i-1].Tokens < rt.Tokens {
			i--
		}
		if i >= n {
			continue
		}
		out = append(out, rowTokens{})
		copy(out[i+1:], out[i:])
		out[i] = rt
		if len(out) > n {
			out = out[:n]
		}
	}
	return out
}
