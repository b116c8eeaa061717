package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when a path or folder does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoURL is returned when the backend cannot resolve a public URL.
	ErrNoURL = errors.New("no public url configured")
)

// Storage defines the interface for path-addressed blob storage. Paths are
// slash-separated and relative to the backend root.
type Storage interface {
	// Save writes data to path, replacing any existing object as a whole.
	// It returns the number of bytes written.
	Save(ctx context.Context, path string, data io.Reader) (int64, error)

	// Open returns a ReadCloser for the object at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// ListDir returns the immediate subfolders and files of folder.
	ListDir(ctx context.Context, folder string) (dirs, files []string, err error)

	// URL returns the public URL of path.
	URL(path string) (string, error)
}
