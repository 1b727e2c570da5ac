package fixture

import (
	"context"
	"errors"
	"testing"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/logger"
)

// Use returns a context for the running test and tears it down when the test
// ends, whether it passes, fails or runs out of time. The returned
// context.Context carries the per-test deadline.
//
// The test is skipped when no engine exists for the configured browser or
// no extension build is configured.
func (w *Worker) Use(t testing.TB) (context.Context, *extctx.Context) {
	t.Helper()
	if errors.Is(w.engineErr, extctx.ErrUnsupportedEngine) {
		t.Skipf("no extension context available for this browser: %v", w.engineErr)
	}
	if w.settings.SourceDir == "" {
		t.Skip("no extension source directory configured for this browser")
	}

	ctx := logger.With(logger.AddToContext(context.Background(), w.log), "test", t.Name())
	if d := w.settings.TestTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		t.Cleanup(cancel)
	}

	c, err := w.Context(ctx)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	t.Cleanup(func() {
		tctx, cancel := context.WithTimeout(context.Background(), extctx.TeardownTimeout)
		defer cancel()
		if err := w.Release(tctx, c); err != nil {
			t.Logf("fixture: teardown of %s: %v", c.DataDir, err)
		}
	})
	return ctx, c
}

// Run runs the tests of m and closes the worker afterwards. It is meant to
// be returned from TestMain through os.Exit.
func (w *Worker) Run(m *testing.M) int {
	code := m.Run()
	ctx, cancel := context.WithTimeout(context.Background(), extctx.TeardownTimeout)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		w.log.Error("fixture teardown failed", "err", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}
