package table

import (
	"sort"
	"strings"
)

// tokensPerWord is a rough multiplier from whitespace-separated words to model tokens.
const tokensPerWord = 3

// EstimateTokens approximates the prompt tokens a row's text contributes.
// With no columns given all columns count.
func (r Row) EstimateTokens(columns ...string) int {
	words := 0
	for _, c := range r.Pairs(columns...) {
		words += len(strings.Fields(c.Value))
	}
	return words * tokensPerWord
}

// TokenStats summarizes per-row token estimates.
type TokenStats struct {
	Rows  int `json:"rows" yaml:"rows"`
	Total int `json:"total" yaml:"total"`
	Min   int `json:"min" yaml:"min"`
	Max   int `json:"max" yaml:"max"`
	Mean  int `json:"mean" yaml:"mean"`
	P50   int `json:"p50" yaml:"p50"`
	P90   int `json:"p90" yaml:"p90"`
	P99   int `json:"p99" yaml:"p99"`
}

// Estimate computes token statistics over all rows of t.
func Estimate(t *Table, columns ...string) TokenStats {
	if len(t.Rows) == 0 {
		return TokenStats{}
	}
	counts := make([]int, len(t.Rows))
	total := 0
	for i, r := range t.Rows {
		counts[i] = r.EstimateTokens(columns...)
		total += counts[i]
	}
	sort.Ints(counts)
	return TokenStats{
		Rows:  len(counts),
		Total: total,
		Min:   counts[0],
		Max:   counts[len(counts)-1],
		Mean:  total / len(counts),
		P50:   percentile(counts, 50),
		P90:   percentile(counts, 90),
		P99:   percentile(counts, 99),
	}
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []int, p int) int {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
