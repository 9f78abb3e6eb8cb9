package testhelpers

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Blobs is an in-memory storage.Blobs.
type Blobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewBlobs creates an empty in-memory blob store.
func NewBlobs() *Blobs {
	return &Blobs{files: make(map[string][]byte)}
}

// Put stores content directly, bypassing the Create duplicate check.
func (b *Blobs) Put(name string, content []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = content
}

// Get returns stored content, or nil if the blob does not exist.
func (b *Blobs) Get(name string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files[name]
}

func (b *Blobs) Open(name string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("failed to open blob %s: not found", name)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (b *Blobs) Create(name string, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[name]; ok {
		return fmt.Errorf("failed to create blob %s: already exists", name)
	}
	b.files[name] = content
	return nil
}

func (b *Blobs) Size(name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.files[name]
	if !ok {
		return 0, fmt.Errorf("failed to stat blob %s: not found", name)
	}
	return int64(len(content)), nil
}

func (b *Blobs) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, name)
	return nil
}
