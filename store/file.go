/* SPDX-License-Identifier: BSD-2-Clause */

package store

import (
	"fmt"
	"os"
)

// FileStore backs a mapping with a regular file opened for read/write,
// built on os.File's ReadAt/WriteAt.
type FileStore struct {
	f *os.File
}

// OpenFileStore opens path for read/write I/O and returns a FileStore
// backed by it. The file is not created or truncated; callers that need a
// fresh backing file should create it first with the desired size.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &FileStore{f: f}, nil
}

// CreateFileStore creates (or truncates) path, sizes it to size bytes via
// Truncate, and returns a FileStore backed by it.
func CreateFileStore(path string, size int64) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("store: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: truncate %s to %d: %w", path, size, err)
	}
	return &FileStore{f: f}, nil
}

func (s *FileStore) ReadAt(dst []byte, offset int64) error {
	n, err := s.f.ReadAt(dst, offset)
	if err != nil {
		return fmt.Errorf("store: read at %d: %w", offset, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: got %d, want %d at offset %d", ErrShortRead, n, len(dst), offset)
	}
	return nil
}

func (s *FileStore) WriteAt(src []byte, offset int64) error {
	n, err := s.f.WriteAt(src, offset)
	if err != nil {
		return fmt.Errorf("store: write at %d: %w", offset, err)
	}
	if n != len(src) {
		return fmt.Errorf("%w: wrote %d, want %d at offset %d", ErrShortWrite, n, len(src), offset)
	}
	return nil
}

func (s *FileStore) Close() error {
	return s.f.Close()
}

// Sync flushes the file store's pending writes to stable storage.
func (s *FileStore) Sync() error {
	return s.f.Sync()
}
