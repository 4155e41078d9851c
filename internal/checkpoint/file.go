package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/tabextract/internal/extract"
	"github.com/jackzampolin/tabextract/internal/sink"
)

const (
	lineHeader = "header"
	lineResult = "result"
)

// line is the on-disk envelope for every JSON line in a checkpoint file.
type line struct {
	Type   string  `json:"type"`
	Header *Header `json:"header,omitempty"`
	Record *Record `json:"record,omitempty"`
}

// FileConfig configures a FileStore.
type FileConfig struct {
	Path       string
	Input      string
	InputHash  string
	SchemaHash string
	// Reset discards an existing checkpoint instead of resuming it.
	Reset  bool
	Logger *slog.Logger
}

// FileStore is an append-only JSON Lines checkpoint. The first line is a
// Header; every following line is a Record. On open, the last record per
// index wins and a partial trailing line left by a crash is dropped.
type FileStore struct {
	path   string
	header Header
	logger *slog.Logger
	sink   *sink.Sink

	mu      sync.RWMutex
	results map[int]extract.Result
}

// OpenFile opens or creates the checkpoint at cfg.Path. An existing file
// whose header names a different input or schema fails with ErrMismatch
// unless cfg.Reset is set.
func OpenFile(ctx context.Context, cfg FileConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: checkpoint path is required", ErrStoreUnavailable)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("checkpoint", cfg.Path)

	if cfg.Reset {
		if err := os.Remove(cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: failed to reset %s: %v", ErrStoreUnavailable, cfg.Path, err)
		}
	}

	existing, results, err := load(cfg.Path, logger)
	if err != nil {
		return nil, err
	}

	store := &FileStore{
		path:    cfg.Path,
		logger:  logger,
		results: results,
	}

	if existing != nil {
		if existing.InputHash != cfg.InputHash || existing.SchemaHash != cfg.SchemaHash {
			return nil, fmt.Errorf("%w: %s was written for input %s and schema %s (use --reset to discard it)",
				ErrMismatch, cfg.Path, short(existing.InputHash), short(existing.SchemaHash))
		}
		store.header = *existing
		logger.Info("resuming checkpoint", "run_id", existing.RunID, "finalized", len(results))
	} else {
		store.header = Header{
			RunID:      uuid.New().String(),
			Input:      cfg.Input,
			InputHash:  cfg.InputHash,
			SchemaHash: cfg.SchemaHash,
			CreatedAt:  time.Now().UTC(),
		}
	}

	s, err := sink.Open(sink.Config{Path: cfg.Path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	store.sink = s

	if existing == nil {
		h := store.header
		if err := s.SendSync(ctx, line{Type: lineHeader, Header: &h}); err != nil {
			_ = s.Stop()
			return nil, fmt.Errorf("%w: failed to write header: %v", ErrStoreUnavailable, err)
		}
	}
	return store, nil
}

// load reads an existing checkpoint. It returns a nil header when the file
// does not exist or holds no complete line.
func load(path string, logger *slog.Logger) (*Header, map[int]extract.Result, error) {
	results := make(map[int]extract.Result)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, results, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer f.Close()

	var (
		header   *Header
		complete int64 // offset just past the last newline
		lineNo   int
	)
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadBytes('\n')
		if len(raw) > 0 && raw[len(raw)-1] == '\n' {
			complete += int64(len(raw))
			lineNo++
			if err := apply(bytes.TrimSpace(raw), lineNo, &header, results); err != nil {
				return nil, nil, fmt.Errorf("%w: %s line %d: %v", ErrStoreUnavailable, path, lineNo, err)
			}
		}
		if err == io.EOF {
			if len(raw) > 0 {
				logger.Warn("dropping partial trailing checkpoint line", "bytes", len(raw))
				if err := os.Truncate(path, complete); err != nil {
					return nil, nil, fmt.Errorf("%w: failed to truncate partial line: %v", ErrStoreUnavailable, err)
				}
			}
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if header == nil && len(results) > 0 {
		return nil, nil, fmt.Errorf("%w: %s has records but no header", ErrStoreUnavailable, path)
	}
	return header, results, nil
}

func apply(raw []byte, lineNo int, header **Header, results map[int]extract.Result) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var l line
	if err := dec.Decode(&l); err != nil {
		return err
	}
	switch l.Type {
	case lineHeader:
		if lineNo != 1 || l.Header == nil {
			return errors.New("unexpected header")
		}
		*header = l.Header
	case lineResult:
		if l.Record == nil {
			return errors.New("result line without record")
		}
		results[l.Record.Index] = l.Record.Result
	default:
		return fmt.Errorf("unknown line type %q", l.Type)
	}
	return nil
}

// Header returns the run header.
func (s *FileStore) Header() Header { return s.header }

// Path returns the checkpoint file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Read(_ context.Context, index int) (extract.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[index]
	return r, ok, nil
}

// Append writes the record and waits for it to be synced before it becomes
// visible to Read.
func (s *FileStore) Append(ctx context.Context, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if err := s.sink.SendSync(ctx, line{Type: lineResult, Record: &rec}); err != nil {
		return fmt.Errorf("%w: row %d: %v", ErrStoreUnavailable, rec.Index, err)
	}
	s.mu.Lock()
	s.results[rec.Index] = rec.Result
	s.mu.Unlock()
	return nil
}

func (s *FileStore) ListFinalized(_ context.Context) (map[int]extract.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]extract.Result, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) Close() error {
	return s.sink.Stop()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
