package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestSendSyncIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "log.jsonl")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, s.SendSync(context.Background(), map[string]any{"n": 1}))

	// Visible on disk before Stop.
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 1, lines[0]["n"])

	require.NoError(t, s.Stop())
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	s, err := Open(Config{Path: path, BatchSize: 8, QueueSize: 4})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				s.Send(map[string]any{"n": i})
				return
			}
			assert.NoError(t, s.SendSync(context.Background(), map[string]any{"n": i}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Stop())

	lines := readLines(t, path)
	require.Len(t, lines, 50)
	seen := map[float64]bool{}
	for _, l := range lines {
		seen[l["n"].(float64)] = true
	}
	assert.Len(t, seen, 50)
}

func TestStoppedSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	assert.True(t, errors.Is(s.SendSync(context.Background(), 1), ErrClosed))
	s.Send(2)
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"n":0}`+"\n"), 0o644))

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.SendSync(context.Background(), map[string]int{"n": 1}))
	require.NoError(t, s.Stop())

	assert.Len(t, readLines(t, path), 2)
}

func TestEncodeErrorReported(t *testing.T) {
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "log.jsonl")})
	require.NoError(t, err)
	defer s.Stop()

	err = s.SendSync(context.Background(), map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
