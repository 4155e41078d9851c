// Package sink serializes appends to a JSON Lines file through a single
// writer goroutine.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrClosed is returned when writing to a stopped sink.
var ErrClosed = errors.New("sink closed")

// writeOp is a single value to append.
type writeOp struct {
	value  any
	result chan<- error // set by SendSync
}

// Config configures the write sink.
type Config struct {
	Path          string
	BatchSize     int           // Max ops per write+fsync (default: 64)
	FlushInterval time.Duration // Fsync interval for fire-and-forget ops (default: 1s)
	QueueSize     int           // Buffer size (default: 256)
	Logger        *slog.Logger
}

// Sink appends JSON values, one per line, to a file. All writes go through
// one goroutine so lines never interleave. Ops queued together are written
// as a batch with a single fsync; SendSync returns only after its line is
// on disk.
type Sink struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue chan writeOp
	mu    sync.RWMutex
	done  bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	closeErr error
}

// Open creates the sink, appending to the file at cfg.Path.
func Open(cfg Config) (*Sink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", cfg.Path, err)
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}

	s := &Sink{
		path:          cfg.Path,
		file:          f,
		w:             bufio.NewWriter(f),
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan writeOp, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Path returns the file being written.
func (s *Sink) Path() string { return s.path }

// Send queues a value (fire-and-forget). It blocks only while the queue is full.
func (s *Sink) Send(v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		s.logger.Warn("sink closed, dropping write", "path", s.path)
		return
	}
	s.queue <- writeOp{value: v}
}

// SendSync queues a value and waits until it has been written and synced.
func (s *Sink) SendSync(ctx context.Context, v any) error {
	resultCh := make(chan error, 1)

	s.mu.RLock()
	if s.done {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- writeOp{value: v, result: resultCh}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	// The write is queued and will complete; wait for it regardless of ctx
	// so callers never act on a write whose fate is unknown.
	return <-resultCh
}

// Stop drains queued writes, syncs, and closes the file.
func (s *Sink) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.done = true
		close(s.queue)
		s.mu.Unlock()

		s.wg.Wait()
		if err := s.w.Flush(); err != nil {
			s.closeErr = err
		}
		if err := s.file.Sync(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if err := s.file.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// run collects operations and writes them in batches.
func (s *Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	dirty := false

	for {
		select {
		case op, ok := <-s.queue:
			if !ok {
				return
			}
			batch := []writeOp{op}
		drain:
			for len(batch) < s.batchSize {
				select {
				case next, ok := <-s.queue:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			dirty = s.writeBatch(batch)

		case <-ticker.C:
			if dirty {
				if err := s.sync(); err != nil {
					s.logger.Error("periodic sync failed", "path", s.path, "error", err)
				}
				dirty = false
			}
		}
	}
}

// writeBatch appends every op and syncs if any caller is waiting.
// It reports whether unsynced data remains.
func (s *Sink) writeBatch(batch []writeOp) bool {
	errs := make([]error, len(batch))
	waiting := false
	for i, op := range batch {
		errs[i] = s.writeLine(op.value)
		if op.result != nil {
			waiting = true
		}
	}

	var syncErr error
	if waiting {
		syncErr = s.sync()
		if syncErr != nil {
			s.logger.Error("sync failed", "path", s.path, "error", syncErr)
		}
	} else if err := s.w.Flush(); err != nil {
		s.logger.Error("flush failed", "path", s.path, "error", err)
	}

	for i, op := range batch {
		if op.result == nil {
			if errs[i] != nil {
				s.logger.Error("write failed", "path", s.path, "error", errs[i])
			}
			continue
		}
		err := errs[i]
		if err == nil {
			err = syncErr
		}
		op.result <- err
		close(op.result)
	}
	return !waiting
}

func (s *Sink) writeLine(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (s *Sink) sync() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}
