package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store defines the interface for blob storage backends.
// This allows swapping the filesystem for S3 or other backends.
//
// Delete tolerates an already-absent key: either the sweeper or a download
// may win the race to remove a blob, and both treat "gone" as success.
type Store interface {
	Create(key string) (io.WriteCloser, error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	EnsureReady() error
}

// FileSystemStore stores blobs on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureReady creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureReady() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Create opens a writer for a new blob under the given key.
// The caller is responsible for removing the blob on a failed write.
func (fs *FileSystemStore) Create(key string) (io.WriteCloser, error) {
	path := fs.blobPath(key)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob %s: %w", path, err)
	}
	return file, nil
}

// Open returns a reader over a stored blob.
func (fs *FileSystemStore) Open(key string) (io.ReadCloser, error) {
	path := fs.blobPath(key)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found for key %s", key)
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", path, err)
	}
	return file, nil
}

// Delete removes a stored blob. A missing blob is not an error.
func (fs *FileSystemStore) Delete(key string) error {
	path := fs.blobPath(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a blob is present under the given key.
func (fs *FileSystemStore) Exists(key string) (bool, error) {
	_, err := os.Stat(fs.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

func (fs *FileSystemStore) blobPath(key string) string {
	// Keys are opaque identifiers generated by the service; Base guards
	// against anything path-like slipping through.
	return filepath.Join(fs.basePath, filepath.Base(key))
}
