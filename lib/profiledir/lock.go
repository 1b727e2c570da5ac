package profiledir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// lockPollInterval backs up the fsnotify watch on filesystems that do not
// deliver events reliably (network mounts, some container overlays).
const lockPollInterval = 100 * time.Millisecond

// Locked reports whether any of lockFiles is present in dir. Lock files are
// checked with Lstat because browsers use dangling symlinks as locks.
func Locked(dir string, lockFiles ...string) bool {
	for _, name := range lockFiles {
		if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// WaitUnlocked blocks until none of lockFiles exists in dir or ctx is done.
func WaitUnlocked(ctx context.Context, dir string, lockFiles ...string) error {
	if len(lockFiles) == 0 || !Locked(dir, lockFiles...) {
		return nil
	}

	// A missing watcher only costs latency; the ticker keeps us correct.
	var events <-chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(dir); err == nil {
			events = w.Events
		}
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		if !Locked(dir, lockFiles...) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLocked, dir, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !slices.Contains(lockFiles, filepath.Base(ev.Name)) {
				continue
			}
		case <-ticker.C:
		}
	}
}
