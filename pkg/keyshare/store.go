package keyshare

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
)

// Load reads and validates a share written by Output.Commit.
func Load(path string, group curve.Curve) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyshare.Load: %w", err)
	}
	c := EmptyConfig(group)
	if err = c.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("keyshare.Load: %s: %w", path, err)
	}
	return c, nil
}

// Output is a reserved destination for a new share.
type Output struct {
	path string
	file *os.File
	done bool
}

// Reserve creates path, failing if it already exists.
//
// This is done before any protocol work, so that a round is never run
// only to find out that its result can't be saved.
func Reserve(path string) (*Output, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("keyshare.Reserve: %w", err)
	}
	return &Output{path: path, file: f}, nil
}

// Path returns the reserved path.
func (o *Output) Path() string {
	return o.path
}

// Commit writes c to the reserved path.
//
// The data is written to a temporary file in the same directory, synced, and
// renamed over the reserved path, so readers never observe a partial share.
func (o *Output) Commit(c *Config) error {
	if o.done {
		return errors.New("keyshare.Output: already committed or discarded")
	}
	data, err := c.MarshalBinary()
	if err != nil {
		return fmt.Errorf("keyshare.Commit: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(o.path), "."+filepath.Base(o.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("keyshare.Commit: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err = tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("keyshare.Commit: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("keyshare.Commit: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("keyshare.Commit: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("keyshare.Commit: %w", err)
	}
	if err = os.Rename(tmpPath, o.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("keyshare.Commit: %w", err)
	}
	_ = o.file.Close()
	o.done = true
	return nil
}

// Discard removes the reserved file, unless it has already been committed.
func (o *Output) Discard() error {
	if o.done {
		return nil
	}
	o.done = true
	_ = o.file.Close()
	if err := os.Remove(o.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("keyshare.Discard: %w", err)
	}
	return nil
}
