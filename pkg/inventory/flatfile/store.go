// Package flatfile stores the inventory as the grouped comma-separated text
// file described in the inventory package.
package flatfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittoloan/pkg/inventory"
)

// Config configures a flat-file store.
type Config struct {
	// Path is the file the catalogue is loaded from.
	Path string `mapstructure:"path" validate:"required"`

	// OutputPath is the file the catalogue is persisted to. Empty means Path.
	OutputPath string `mapstructure:"output_path"`
}

// Store reads and writes the flat text format.
type Store struct {
	path   string
	output string
}

// New creates a flat-file store. No file is touched until Load or Persist.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("flatfile: path is required")
	}
	output := cfg.OutputPath
	if output == "" {
		output = cfg.Path
	}
	return &Store{path: cfg.Path, output: output}, nil
}

// Load parses the input file. A missing file is returned as a *fs.PathError
// and bad content as CorruptDatabase.
func (s *Store) Load(ctx context.Context) ([]*inventory.Title, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()

	titles, err := inventory.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", s.path, err)
	}
	return titles, nil
}

// Persist rewrites the output file from scratch.
//
// The catalogue is written to a temporary file in the same directory and
// renamed over the output, so a failed write leaves the previous file intact.
func (s *Store) Persist(ctx context.Context, titles []*inventory.Title) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.output), "."+filepath.Base(s.output)+".*")
	if err != nil {
		return fmt.Errorf("persist inventory: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := inventory.Encode(tmp, titles); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("persist inventory: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("persist inventory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("persist inventory: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("persist inventory: %w", err)
	}
	if err := os.Rename(tmpName, s.output); err != nil {
		cleanup()
		return fmt.Errorf("persist inventory: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no open files between calls.
func (s *Store) Close() error {
	return nil
}
