package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/docrag/internal/fsutil"
)

// ErrExists is returned by Save when a file of that name is already stored.
var ErrExists = errors.New("file already exists")

// ErrInvalidName is returned by Save for names that are empty or not a
// plain file name.
var ErrInvalidName = errors.New("invalid file name")

// ErrTooLarge is returned by Save when the upload exceeds the size limit.
var ErrTooLarge = errors.New("file too large")

// Save stores r as dir/name, creating dir if needed. Existing files are
// never overwritten. The write is atomic, so LoadDir never sees a partial
// upload.
func Save(dir, name string, r io.Reader, maxSize int64) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	}

	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return "", fmt.Errorf("%w: upload exceeds %d bytes", ErrTooLarge, maxSize)
	}
	if err := fsutil.WriteFileBytes(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Clear removes everything inside dir but keeps dir itself. It returns the
// number of top-level entries removed. A missing dir is not an error.
func Clear(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
