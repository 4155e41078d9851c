// Package checkpoint persists terminal row results so an interrupted batch
// can resume without calling the model again for finished rows.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/tabextract/internal/extract"
)

var (
	// ErrStoreUnavailable means the store cannot be read or written. It is
	// fatal for a run: results that cannot be persisted must not be reported.
	ErrStoreUnavailable = errors.New("checkpoint store unavailable")

	// ErrMismatch means an existing checkpoint belongs to a different input
	// or schema.
	ErrMismatch = errors.New("checkpoint does not match this run")
)

// Store records terminal results by row index.
type Store interface {
	// Read returns the recorded result for a row, if any.
	Read(ctx context.Context, index int) (extract.Result, bool, error)
	// Append durably records a terminal result. A later record for the same
	// index replaces the earlier one.
	Append(ctx context.Context, rec Record) error
	// ListFinalized returns every recorded result.
	ListFinalized(ctx context.Context) (map[int]extract.Result, error)
	Close() error
}

// Header identifies the run a checkpoint belongs to.
type Header struct {
	RunID      string    `json:"run_id"`
	Input      string    `json:"input,omitempty"`
	InputHash  string    `json:"input_hash"`
	SchemaHash string    `json:"schema_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record is one terminal row result.
type Record struct {
	Index      int            `json:"index"`
	Result     extract.Result `json:"result"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// HashFile returns the SHA256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DefaultPath returns <dir>/<input basename>-<first 12 of inputHash>.jsonl.
func DefaultPath(dir, input, inputHash string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	short := inputHash
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", base, short))
}
