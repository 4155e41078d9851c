package llmcall

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// QueryFilter specifies filters for listing calls. Zero values match all.
type QueryFilter struct {
	RunID      string
	Row        *int
	PromptHash string
	Provider   string
	Model      string
	Reason     string
	After      *time.Time
	Before     *time.Time
	Success    *bool
	Limit      int
	Offset     int
}

func (f QueryFilter) match(c Call) bool {
	switch {
	case f.RunID != "" && c.RunID != f.RunID:
		return false
	case f.Row != nil && c.RowIndex != *f.Row:
		return false
	case f.PromptHash != "" && c.PromptHash != f.PromptHash:
		return false
	case f.Provider != "" && c.Provider != f.Provider:
		return false
	case f.Model != "" && c.Model != f.Model:
		return false
	case f.Reason != "" && c.Reason != f.Reason:
		return false
	case f.Success != nil && c.Success != *f.Success:
		return false
	case f.After != nil && !c.Timestamp.After(*f.After):
		return false
	case f.Before != nil && !c.Timestamp.Before(*f.Before):
		return false
	}
	return true
}

// Store reads calls back from a trace file.
type Store struct {
	path string
}

// NewStore creates a store over the trace file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Get retrieves a single call by ID. It returns nil when not found.
func (s *Store) Get(id string) (*Call, error) {
	calls, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range calls {
		if calls[i].ID == id {
			return &calls[i], nil
		}
	}
	return nil, nil
}

// List retrieves calls matching the filter, ordered by row then attempt.
func (s *Store) List(filter QueryFilter) ([]Call, error) {
	calls, err := s.load()
	if err != nil {
		return nil, err
	}

	var out []Call
	for _, c := range calls {
		if filter.match(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return out[i].Attempt < out[j].Attempt
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Stats summarizes calls per outcome.
type Stats struct {
	Calls        int            `json:"calls" yaml:"calls"`
	Succeeded    int            `json:"succeeded" yaml:"succeeded"`
	ByReason     map[string]int `json:"by_reason,omitempty" yaml:"by_reason,omitempty"`
	InputTokens  int            `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int            `json:"output_tokens" yaml:"output_tokens"`
	AvgLatencyMs int            `json:"avg_latency_ms" yaml:"avg_latency_ms"`
}

// Summarize tallies a list of calls.
func Summarize(calls []Call) Stats {
	st := Stats{Calls: len(calls)}
	var latency int
	for _, c := range calls {
		if c.Success {
			st.Succeeded++
		} else {
			if st.ByReason == nil {
				st.ByReason = make(map[string]int)
			}
			st.ByReason[c.Reason]++
		}
		st.InputTokens += c.InputTokens
		st.OutputTokens += c.OutputTokens
		latency += c.LatencyMs
	}
	if len(calls) > 0 {
		st.AvgLatencyMs = latency / len(calls)
	}
	return st
}

// load reads every complete line. A partial trailing line is skipped.
func (s *Store) load() ([]Call, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	var calls []Call
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var c Call
			if jerr := json.Unmarshal(line, &c); jerr != nil {
				return nil, fmt.Errorf("trace line %d: %w", lineNo, jerr)
			}
			calls = append(calls, c)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}
	}
	return calls, nil
}
