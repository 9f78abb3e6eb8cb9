// Package storage provides the blob store for uploaded data source files.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Blobs is the narrow file-store contract the data source views and the
// import executors use.
type Blobs interface {
	// Open returns a reader over a stored blob.
	Open(name string) (io.ReadCloser, error)

	// Create stores a new blob under name, consuming r.
	Create(name string, r io.Reader) error

	// Size reports a stored blob's size in bytes.
	Size(name string) (int64, error)

	// Remove deletes a stored blob. Removing a missing blob is a no-op.
	Remove(name string) error
}

// LocalBlobs stores blobs as flat files inside one directory.
type LocalBlobs struct {
	dir string
}

// NewLocalBlobs creates the directory if needed and returns the store.
func NewLocalBlobs(dir string) (*LocalBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &LocalBlobs{dir: dir}, nil
}

func (b *LocalBlobs) path(name string) string {
	// Blob names are server-generated; Base guards against traversal if a
	// stored name is ever attacker-influenced.
	return filepath.Join(b.dir, filepath.Base(name))
}

func (b *LocalBlobs) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", name, err)
	}
	return f, nil
}

func (b *LocalBlobs) Create(name string, r io.Reader) error {
	f, err := os.OpenFile(b.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create blob %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	return f.Close()
}

func (b *LocalBlobs) Size(name string) (int64, error) {
	info, err := os.Stat(b.path(name))
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob %s: %w", name, err)
	}
	return info.Size(), nil
}

func (b *LocalBlobs) Remove(name string) error {
	err := os.Remove(b.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob %s: %w", name, err)
	}
	return nil
}
