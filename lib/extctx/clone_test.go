package extctx_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiltprotocol/sporran-e2e/lib/extctx"
	"github.com/kiltprotocol/sporran-e2e/lib/extctx/extctxtest"
	"github.com/kiltprotocol/sporran-e2e/lib/profiledir"
)

// baselineWith builds a closed baseline holding the given identities.
func baselineWith(t *testing.T, e *extctxtest.Engine, opts extctx.Options, ids ...string) *extctx.Baseline {
	t.Helper()
	ctx := context.Background()
	c, err := extctx.Create(ctx, e, "/src", newDir(t), opts)
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, extctxtest.Import(ctx, c, id))
	}
	base, err := c.Close(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Teardown() })
	return base
}

func TestCloneInheritsState(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")

	clone, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{InheritState: true})
	require.NoError(t, err)
	defer clone.Teardown(ctx)

	assert.NotEqual(t, base.DataDir, clone.DataDir)
	assert.Equal(t, extctxtest.ExtensionID, clone.ExtensionID)
	ids, err := extctxtest.Identities(ctx, clone)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)

	// every launch runs its own discovery against its own directory
	launches := e.Launches()
	require.Len(t, launches, 2)
	assert.Equal(t, clone.DataDir, launches[1].DataDir)
}

func TestCloneWithoutState(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")

	clone, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{})
	require.NoError(t, err)
	defer clone.Teardown(ctx)

	fresh, err := extctx.Create(ctx, e, "/src", newDir(t), extctx.Options{})
	require.NoError(t, err)
	defer fresh.Teardown(ctx)

	got, err := extctxtest.Identities(ctx, clone)
	require.NoError(t, err)
	want, err := extctxtest.Identities(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Empty(t, got)
}

func TestCloneIsIndependent(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")

	b, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{InheritState: true})
	require.NoError(t, err)
	require.NoError(t, extctxtest.Import(ctx, b, "bob"))

	// the baseline stays as it was, even after the clone is gone
	require.NoError(t, b.Teardown(ctx))
	a, err := extctx.Reopen(ctx, base, extctx.Options{})
	require.NoError(t, err)
	defer a.Teardown(ctx)
	ids, err := extctxtest.Identities(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}

func TestCloneOutlivesItsSource(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")

	b, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{InheritState: true})
	require.NoError(t, err)
	defer b.Teardown(ctx)

	require.NoError(t, base.Teardown())
	require.False(t, profiledir.Exists(base.DataDir))

	ids, err := extctxtest.Identities(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
	require.NoError(t, extctxtest.Import(ctx, b, "bob"))
	ids, err = extctxtest.Identities(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	// the clone still closes into a usable baseline of its own
	next, err := b.Close(ctx)
	require.NoError(t, err)
	defer next.Teardown()
	again, err := extctx.Clone(ctx, next, newDir(t), extctx.CloneOptions{InheritState: true})
	require.NoError(t, err)
	defer again.Teardown(ctx)
	ids, err = extctxtest.Identities(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	_, err = extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{InheritState: true})
	assert.ErrorIs(t, err, extctx.ErrClosed)
}

func TestClonesFromOneBaselineDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")

	b1, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{InheritState: true})
	require.NoError(t, err)
	defer b1.Teardown(ctx)
	b2, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{InheritState: true})
	require.NoError(t, err)
	defer b2.Teardown(ctx)

	require.NoError(t, extctxtest.Import(ctx, b1, "bob"))
	require.NoError(t, extctxtest.Import(ctx, b2, "carol"))

	ids1, err := extctxtest.Identities(ctx, b1)
	require.NoError(t, err)
	ids2, err := extctxtest.Identities(ctx, b2)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids1)
	assert.Equal(t, []string{"alice", "carol"}, ids2)
}

func TestCloneMergesOptions(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{
		Viewport: &extctx.Viewport{Width: 480, Height: 600},
		Headless: lo.ToPtr(false),
	})

	clone, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{
		Options: extctx.Options{Headless: lo.ToPtr(true)},
	})
	require.NoError(t, err)
	defer clone.Teardown(ctx)

	assert.True(t, *clone.Options.Headless)
	assert.Equal(t, 480, clone.Options.Viewport.Width)
	assert.False(t, *base.Options.Headless)
}

func TestCloneRefusesLockedBaseline(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")
	require.NoError(t, os.WriteFile(filepath.Join(base.DataDir, extctxtest.LockFile), nil, 0o644))

	dst := newDir(t)
	_, err := extctx.Clone(ctx, base, dst, extctx.CloneOptions{InheritState: true})
	var ce *profiledir.CopyError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, profiledir.ErrLocked)
	assert.False(t, profiledir.Exists(dst))
}

func TestCloneCopyError(t *testing.T) {
	ctx := context.Background()
	e := &extctxtest.Engine{}
	base := baselineWith(t, e, extctx.Options{}, "alice")

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err := extctx.Clone(ctx, base, filepath.Join(blocker, "clone"), extctx.CloneOptions{InheritState: true})
	var ce *profiledir.CopyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, base.DataDir, ce.Src)
}

func TestCloneLaunchErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	for _, tc := range []struct {
		name   string
		breaks func(e *extctxtest.Engine)
	}{
		{"launch", func(e *extctxtest.Engine) { e.LaunchErr = boom }},
		{"discovery", func(e *extctxtest.Engine) { e.DiscoverErr = boom }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := &extctxtest.Engine{}
			base := baselineWith(t, e, extctx.Options{}, "alice")
			tc.breaks(e)

			dst := newDir(t)
			_, err := extctx.Clone(ctx, base, dst, extctx.CloneOptions{InheritState: true})
			var le *extctx.LaunchError
			require.ErrorAs(t, err, &le)
			assert.ErrorIs(t, err, boom)
			assert.False(t, profiledir.Exists(dst))
			assert.True(t, profiledir.Exists(base.DataDir))
		})
	}
}

func TestCloneFromTornDownBaseline(t *testing.T) {
	ctx := context.Background()
	base := baselineWith(t, &extctxtest.Engine{}, extctx.Options{})
	require.NoError(t, base.Teardown())
	_, err := extctx.Clone(ctx, base, newDir(t), extctx.CloneOptions{})
	require.ErrorIs(t, err, extctx.ErrClosed)
}
