package batch

import (
	"sort"
	"sync"

	"github.com/jackzampolin/tabextract/internal/extract"
)

// State holds the terminal result for each finalized row. Only the
// orchestrator mutates it.
type State struct {
	mu      sync.RWMutex
	results map[int]extract.Result
	order   []int // row indices in input order
	pos     int   // order[:pos] are all finalized
	resumed int
}

func newState(order []int) *State {
	return &State{
		results: make(map[int]extract.Result, len(order)),
		order:   order,
	}
}

// record stores a terminal result and advances the cursor. A row is never
// recorded twice.
func (s *State) record(index int, res extract.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[index]; ok {
		return
	}
	s.results[index] = res
	for s.pos < len(s.order) {
		if _, ok := s.results[s.order[s.pos]]; !ok {
			break
		}
		s.pos++
	}
}

func (s *State) has(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[index]
	return ok
}

// Result returns the terminal result for a row.
func (s *State) Result(index int) (extract.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[index]
	return r, ok
}

// Results returns a copy of every finalized result.
func (s *State) Results() map[int]extract.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]extract.Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// Cursor is the index of the last row, in input order, such that it and
// every row before it is finalized. It is -1 when the first row is not.
func (s *State) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pos == 0 {
		return -1
	}
	return s.order[s.pos-1]
}

// Summary counts rows by outcome.
type Summary struct {
	Rows      int `json:"rows" yaml:"rows"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Pending   int `json:"pending" yaml:"pending"`
	Resumed   int `json:"resumed" yaml:"resumed"`
	Attempts  int `json:"attempts" yaml:"attempts"`
	// Failures maps a failure reason to its row count.
	Failures map[string]int `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Summary tallies the state.
func (s *State) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{Rows: len(s.order), Resumed: s.resumed}
	for _, idx := range s.order {
		r, ok := s.results[idx]
		switch {
		case !ok:
			sum.Pending++
		case r.Succeeded():
			sum.Succeeded++
		default:
			sum.Failed++
			if sum.Failures == nil {
				sum.Failures = make(map[string]int)
			}
			sum.Failures[string(r.Reason)]++
		}
		sum.Attempts += r.Attempts
	}
	return sum
}

// Pending returns the indices of rows without a terminal result, sorted.
func (s *State) Pending() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for _, idx := range s.order {
		if _, ok := s.results[idx]; !ok {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}
