package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Compile-time check that FileSystem implements Storage.
var _ Storage = (*FileSystem)(nil)

// FileSystem implements Storage using the local filesystem.
// Objects are stored at <basePath>/<path> and served under <baseURL>/<path>.
type FileSystem struct {
	basePath string
	baseURL  string
}

// NewFileSystem creates a new FileSystem storage rooted at basePath. An empty
// baseURL makes URL fail with ErrNoURL.
func NewFileSystem(basePath, baseURL string) *FileSystem {
	return &FileSystem{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}
}

// Root returns the directory the storage is rooted at.
func (fs *FileSystem) Root() string {
	return fs.basePath
}

// fullPath maps a storage path onto the filesystem, refusing paths that
// escape the root.
func (fs *FileSystem) fullPath(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(clean)), nil
}

// Save writes data to disk using atomic write (temp file + rename).
// It returns the number of bytes written.
func (fs *FileSystem) Save(_ context.Context, p string, data io.Reader) (int64, error) {
	dst, err := fs.fullPath(p)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	// Write to a temp file in the same directory for atomic rename.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing data: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("renaming temp file to %s: %w", dst, err)
	}

	// Rename succeeded; prevent deferred cleanup from removing the final file.
	tmpPath = ""

	return n, nil
}

// Open opens the stored file and returns an io.ReadCloser.
func (fs *FileSystem) Open(_ context.Context, p string) (io.ReadCloser, error) {
	full, err := fs.fullPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("opening file %s: %w", full, err)
	}
	return f, nil
}

// Exists checks whether the file exists on disk.
func (fs *FileSystem) Exists(_ context.Context, p string) (bool, error) {
	full, err := fs.fullPath(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file %s: %w", full, err)
}

// Delete removes a single file.
// It is idempotent: deleting a non-existent file returns no error.
func (fs *FileSystem) Delete(_ context.Context, p string) error {
	full, err := fs.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %s: %w", full, err)
	}
	return nil
}

// ListDir lists the entries of a folder. Temp files left by interrupted
// writes are skipped.
func (fs *FileSystem) ListDir(_ context.Context, folder string) ([]string, []string, error) {
	full := filepath.Join(fs.basePath, filepath.FromSlash(path.Clean("/"+folder)))
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("list %s: %w", folder, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("reading directory %s: %w", full, err)
	}

	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		if strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		files = append(files, e.Name())
	}
	return dirs, files, nil
}

// URL joins the base URL with the escaped path.
func (fs *FileSystem) URL(p string) (string, error) {
	if fs.baseURL == "" {
		return "", ErrNoURL
	}
	u := url.URL{Path: strings.TrimLeft(path.Clean("/"+p), "/")}
	return fs.baseURL + "/" + u.EscapedPath(), nil
}
