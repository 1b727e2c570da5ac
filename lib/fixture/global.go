package fixture

import (
	"context"
	"fmt"
	"os"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/logger"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

// adoptGlobal copies or restores the shared global baseline into a private
// directory and adopts that. Workers never launch against the shared one.
func (w *Worker) adoptGlobal(ctx context.Context) (*extctx.Baseline, error) {
	src := w.settings.GlobalDir()
	if src == "" {
		return nil, &SetupFailure{Strategy: GlobalOnce, Err: ErrNoGlobalBaseline}
	}
	dir, err := profiledir.Allocate(w.settings.DataDir, "")
	if err != nil {
		return nil, err
	}
	lockFiles := w.engine.LockFiles()

	switch {
	case profiledir.IsArchive(src) && fileExists(src):
		err = profiledir.RestoreFile(src, dir)
	case profiledir.Exists(src):
		if profiledir.Locked(src, lockFiles...) {
			err = fmt.Errorf("global baseline %s: %w", src, profiledir.ErrLocked)
			break
		}
		err = profiledir.Copy(src, dir, lockFiles...)
	default:
		err = fmt.Errorf("%w: %s", ErrNoGlobalBaseline, src)
	}
	if err != nil {
		_ = profiledir.Release(dir)
		return nil, &SetupFailure{Strategy: GlobalOnce, Err: err}
	}

	base, err := extctx.Adopt(w.engine, w.settings.SourceDir, dir, w.settings.LaunchOptions(), true)
	if err != nil {
		_ = profiledir.Release(dir)
		return nil, &SetupFailure{Strategy: GlobalOnce, Err: err}
	}
	logger.FromContext(ctx).Debug("adopted global baseline", "src", src, "dir", dir)
	return base, nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// BuildGlobal prepares the GlobalOnce baseline at settings.GlobalDir: it
// removes any previous one, creates a context there, runs the baseline
// routine for the configured network and closes the context. The returned
// Baseline does not own the directory, which is kept for the test run.
func BuildGlobal(ctx context.Context, settings Settings, opts ...Option) (*extctx.Baseline, error) {
	settings.Strategy = GlobalOnce
	w, err := New(settings, opts...)
	if err != nil {
		return nil, err
	}
	if w.engineErr != nil {
		return nil, w.engineErr
	}
	if err := w.settings.checkCredentials(); err != nil {
		return nil, err
	}
	dir := w.settings.GlobalDir()
	if dir == "" || profiledir.IsArchive(dir) {
		return nil, &ConfigurationError{
			Setting:  "global data dir",
			Value:    dir,
			Guidance: "set a directory path for the global baseline",
		}
	}
	if err := profiledir.Release(dir); err != nil {
		return nil, err
	}

	ctx = logger.AddToContext(ctx, w.logger(ctx))
	base, err := createBaseline(ctx, w.engine, w.settings, dir, w.routine())
	if err != nil {
		return nil, err
	}
	return extctx.Adopt(w.engine, base.SourceDir, base.DataDir, base.Options, false)
}
