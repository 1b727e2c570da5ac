package extctx

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

// Baseline is a profile directory that no live browser holds. It is obtained
// from Context.Close or Adopt and is the source of every Clone.
type Baseline struct {
	Engine      string
	SourceDir   string
	DataDir     string
	ExtensionID string
	Options     Options

	engine Engine

	// Clones hold the read lock while copying; Teardown and Reopen take the
	// write lock so the tree never disappears under a copy.
	mu       sync.RWMutex
	consumed bool
	owned    bool
	release  sync.Once
}

// Adopt wraps an existing profile directory as a Baseline. It fails while a
// browser holds the directory. When owned is set Teardown removes it.
func Adopt(engine Engine, sourceDir, dataDir string, opts Options, owned bool) (*Baseline, error) {
	if !profiledir.Exists(dataDir) {
		return nil, fmt.Errorf("adopt profile %s: %w", dataDir, os.ErrNotExist)
	}
	if profiledir.Locked(dataDir, engine.LockFiles()...) {
		return nil, fmt.Errorf("adopt profile %s: %w", dataDir, profiledir.ErrLocked)
	}
	return &Baseline{
		Engine:    engine.Name(),
		SourceDir: sourceDir,
		DataDir:   dataDir,
		Options:   opts,
		engine:    engine,
		owned:     owned,
	}, nil
}

// LockFiles are the entries the engine of the baseline keeps in a live
// profile.
func (b *Baseline) LockFiles() []string { return b.engine.LockFiles() }

// Owned reports whether Teardown removes the directory.
func (b *Baseline) Owned() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.owned && !b.consumed
}

// Teardown removes the directory if the Baseline owns it. Later calls, and
// calls after Reopen, are no-ops.
func (b *Baseline) Teardown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil
	}
	b.consumed = true
	if !b.owned {
		return nil
	}
	var err error
	b.release.Do(func() { err = profiledir.Release(b.DataDir) })
	return err
}

// Reopen launches a new session against the baseline directory itself. The
// Baseline is consumed: ownership of the directory moves to the returned
// Context, whose Close yields a fresh Baseline.
func Reopen(ctx context.Context, b *Baseline, override Options) (*Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil, fmt.Errorf("reopen %s: %w", b.DataDir, ErrClosed)
	}
	b.consumed = true
	return create(ctx, b.engine, b.SourceDir, b.DataDir, MergeOptions(b.Options, override), b.owned)
}
