package extctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiltprotocol/sporran-e2e/lib/logger"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

// CloneOptions control how a clone is derived from a Baseline.
type CloneOptions struct {
	// InheritState copies the baseline profile into the clone before launch.
	// Without it the clone starts from an empty profile.
	InheritState bool
	// Options override the baseline launch options.
	Options Options
}

// Clone launches a new Context against newDataDir, which it takes ownership
// of, optionally pre-populated with a copy of the baseline profile. The clone
// runs its own discovery and shares nothing with the baseline afterwards. An
// empty newDataDir is allocated in the system temp directory.
//
// A failed copy is a *profiledir.CopyError; a failed launch or discovery is a
// *LaunchError. Either way newDataDir is removed and the baseline is intact.
func Clone(ctx context.Context, base *Baseline, newDataDir string, opts CloneOptions) (_ *Context, err error) {
	base.mu.RLock()
	defer base.mu.RUnlock()
	if base.consumed {
		return nil, fmt.Errorf("clone %s: %w", base.DataDir, ErrClosed)
	}

	if newDataDir == "" {
		if newDataDir, err = profiledir.Allocate("", ""); err != nil {
			return nil, err
		}
	}
	log := logger.FromContext(ctx).With("engine", base.Engine, "src", base.DataDir, "dir", newDataDir)

	fail := func(err error) (*Context, error) {
		if rerr := profiledir.Release(newDataDir); rerr != nil {
			log.Warn("failed to remove clone directory", "err", rerr)
		}
		return nil, err
	}

	lockFiles := base.engine.LockFiles()
	if profiledir.Locked(base.DataDir, lockFiles...) {
		return fail(&profiledir.CopyError{Src: base.DataDir, Dst: newDataDir, Err: profiledir.ErrLocked})
	}
	if opts.InheritState && profiledir.Exists(base.DataDir) {
		if err := profiledir.Copy(base.DataDir, newDataDir, lockFiles...); err != nil {
			return fail(err)
		}
	}

	c, err := Create(ctx, base.engine, base.SourceDir, newDataDir, MergeOptions(base.Options, opts.Options))
	if err != nil {
		var le *LaunchError
		if !errors.As(err, &le) {
			err = &LaunchError{Engine: base.Engine, DataDir: newDataDir, Err: err}
		}
		// Create already removed newDataDir.
		return nil, err
	}
	log.Debug("cloned extension context", "context", c.ID, "inherit", opts.InheritState)
	return c, nil
}
