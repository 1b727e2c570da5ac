// Package profiledir allocates, copies and removes the on-disk user-data
// directories that browser sessions persist their state into.
//
// The content of a profile directory is owned by the browser and treated as an
// opaque tree: this package never interprets it beyond skipping the lock
// artifacts a live browser leaves behind.
package profiledir

import (
	"errors"
	"fmt"
	"os"
)

// DefaultPrefix is prepended to every allocated directory name.
const DefaultPrefix = "sporran-test-data-"

// ErrLocked reports that a profile directory is still held by a live browser.
var ErrLocked = errors.New("profile directory is locked by a running browser")

// CopyError is returned when a profile tree cannot be copied.
type CopyError struct {
	Src  string
	Dst  string
	Path string // entry that failed, empty when the failure is not entry specific
	Err  error
}

func (e *CopyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("copy profile %s -> %s: %s: %v", e.Src, e.Dst, e.Path, e.Err)
	}
	return fmt.Sprintf("copy profile %s -> %s: %v", e.Src, e.Dst, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// Allocate creates a new, empty, uniquely named directory under baseDir whose
// name starts with prefix. baseDir defaults to the system temp directory and is
// created if it does not exist; prefix defaults to DefaultPrefix.
func Allocate(baseDir, prefix string) (string, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile root %s: %w", baseDir, err)
	}
	dir, err := os.MkdirTemp(baseDir, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to allocate profile directory: %w", err)
	}
	return dir, nil
}

// Release recursively removes path. A missing or partially removed tree is not
// an error, so Release may be called any number of times.
func Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove profile directory %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is an existing directory.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
