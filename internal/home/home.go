package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the tabextract home directory.
	DefaultDirName = ".tabextract"

	// CheckpointsDirName holds one resumable checkpoint per input file.
	CheckpointsDirName = "checkpoints"

	// TracesDirName holds per-attempt trace logs.
	TracesDirName = "traces"

	// OllamaDirName is mounted into the local model container as its model store.
	OllamaDirName = "ollama"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the tabextract home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.tabextract).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// CheckpointsDir returns the default checkpoint directory.
func (d *Dir) CheckpointsDir() string {
	return filepath.Join(d.path, CheckpointsDirName)
}

// TracesDir returns the default trace directory.
func (d *Dir) TracesDir() string {
	return filepath.Join(d.path, TracesDirName)
}

// TracePath returns the trace file paired with a checkpoint file.
func (d *Dir) TracePath(checkpoint string) string {
	base := filepath.Base(checkpoint)
	return filepath.Join(d.TracesDir(), base[:len(base)-len(filepath.Ext(base))]+".trace.jsonl")
}

// OllamaDataPath returns the host directory for the model container's data.
func (d *Dir) OllamaDataPath() string {
	return filepath.Join(d.path, OllamaDirName)
}

// EnsureExists creates the home directory and its subdirectories.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.CheckpointsDir(), d.TracesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
