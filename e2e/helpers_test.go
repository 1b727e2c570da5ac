//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/fixture"
)

func importIdentity(ctx context.Context, c *extctx.Context, name string) error {
	page, err := c.Open(ctx, "")
	if err != nil {
		return err
	}
	defer page.Close()
	arg, err := json.Marshal(name)
	if err != nil {
		return err
	}
	var n int
	if err := page.Evaluate(ctx, fmt.Sprintf("window.sporran.importIdentity(%s, 'pw')", arg), &n); err != nil {
		return fmt.Errorf("import %s: %w", name, err)
	}
	return nil
}

func importing(names ...string) fixture.SetupRoutine {
	return func(ctx context.Context, c *extctx.Context) error {
		for _, n := range names {
			if err := importIdentity(ctx, c, n); err != nil {
				return err
			}
		}
		return nil
	}
}

func identities(t *testing.T, ctx context.Context, c *extctx.Context) []string {
	t.Helper()
	page, err := c.Open(ctx, "")
	require.NoError(t, err)
	defer page.Close()
	var ids []string
	require.NoError(t, page.Evaluate(ctx, "window.sporran.identities()", &ids))
	return ids
}

func engine(t *testing.T) extctx.Engine {
	t.Helper()
	e, err := extctx.Lookup(settings.Engine, settings.EngineConfig)
	if err != nil {
		t.Skipf("no engine for %q: %v", settings.Engine, err)
	}
	return e
}
