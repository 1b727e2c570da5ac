package profiledir

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var chromiumLocks = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestAllocate(t *testing.T) {
	t.Parallel()
	base := t.TempDir()

	dir, err := Allocate(base, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), DefaultPrefix))
	assert.Equal(t, base, filepath.Dir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAllocateCreatesMissingRoot(t *testing.T) {
	t.Parallel()
	base := filepath.Join(t.TempDir(), "nested", "root")

	dir, err := Allocate(base, "custom-")
	require.NoError(t, err)
	assert.True(t, Exists(dir))
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "custom-"))
}

func TestAllocateConcurrentIsUnique(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	const n = 64

	var (
		mu   sync.Mutex
		dirs = map[string]struct{}{}
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			dir, err := Allocate(base, "")
			if err != nil {
				return err
			}
			mu.Lock()
			dirs[dir] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, dirs, n)
	for dir := range dirs {
		assert.True(t, Exists(dir), dir)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	dir, err := Allocate(t.TempDir(), "")
	require.NoError(t, err)
	writeTree(t, dir, map[string]string{"Default/Preferences": "{}"})

	require.NoError(t, Release(dir))
	assert.False(t, Exists(dir))
	require.NoError(t, Release(dir))
	require.NoError(t, Release(filepath.Join(t.TempDir(), "never-existed")))
	require.NoError(t, Release(""))
}

func TestCopy(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"Local State":                              `{"profile":{}}`,
		"Default/Preferences":                      `{"extensions":{}}`,
		"Default/Local Extension Settings/abc/LOG": "log",
	})
	require.NoError(t, os.Chmod(filepath.Join(src, "Local State"), 0o600))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("host-1234", filepath.Join(src, "SingletonLock")))
		require.NoError(t, os.Symlink("Preferences", filepath.Join(src, "Default", "Prefs.link")))
	}

	dst := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, Copy(src, dst, chromiumLocks...))

	assert.Equal(t, `{"profile":{}}`, readFile(t, filepath.Join(dst, "Local State")))
	assert.Equal(t, `{"extensions":{}}`, readFile(t, filepath.Join(dst, "Default", "Preferences")))
	assert.Equal(t, "log", readFile(t, filepath.Join(dst, "Default", "Local Extension Settings", "abc", "LOG")))

	fi, err := os.Stat(filepath.Join(dst, "Local State"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	if runtime.GOOS != "windows" {
		assert.False(t, Locked(dst, chromiumLocks...), "lock artifacts must not be copied")
		link, err := os.Readlink(filepath.Join(dst, "Default", "Prefs.link"))
		require.NoError(t, err)
		assert.Equal(t, "Preferences", link)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"Default/identities": "alice"})
	dst := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, Copy(src, dst))

	writeTree(t, dst, map[string]string{"Default/identities": "alice,bob"})
	assert.Equal(t, "alice", readFile(t, filepath.Join(src, "Default", "identities")))

	writeTree(t, src, map[string]string{"Default/identities": "carol"})
	assert.Equal(t, "alice,bob", readFile(t, filepath.Join(dst, "Default", "identities")))
}

func TestCopyErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T) (src, dst string)
	}{
		{
			name: "missing source",
			setup: func(t *testing.T) (string, string) {
				return filepath.Join(t.TempDir(), "missing"), t.TempDir()
			},
		},
		{
			name: "source is a file",
			setup: func(t *testing.T) (string, string) {
				p := filepath.Join(t.TempDir(), "file")
				require.NoError(t, os.WriteFile(p, nil, 0o644))
				return p, t.TempDir()
			},
		},
		{
			name: "destination under a file",
			setup: func(t *testing.T) (string, string) {
				src := t.TempDir()
				writeTree(t, src, map[string]string{"a": "a"})
				blocker := filepath.Join(t.TempDir(), "blocker")
				require.NoError(t, os.WriteFile(blocker, nil, 0o644))
				return src, filepath.Join(blocker, "dst")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := tt.setup(t)
			err := Copy(src, dst)
			require.Error(t, err)
			var copyErr *CopyError
			require.True(t, errors.As(err, &copyErr), "got %T", err)
			assert.Equal(t, src, copyErr.Src)
		})
	}
}

func TestWaitUnlocked(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lock := filepath.Join(dir, "SingletonLock")
	require.NoError(t, os.WriteFile(lock, nil, 0o644))
	require.True(t, Locked(dir, chromiumLocks...))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.Remove(lock)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitUnlocked(ctx, dir, chromiumLocks...))
	assert.False(t, Locked(dir, chromiumLocks...))
}

func TestWaitUnlockedTimeout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SingletonCookie"), nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := WaitUnlocked(ctx, dir, chromiumLocks...)
	require.ErrorIs(t, err, ErrLocked)
}

func TestWaitUnlockedNoLockFiles(t *testing.T) {
	t.Parallel()
	require.NoError(t, WaitUnlocked(context.Background(), t.TempDir()))
}

func TestArchiveRestore(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"Local State":             "state",
		"Default/Preferences":     "prefs",
		"Default/IndexedDB/a/log": "idb",
	})
	require.NoError(t, os.WriteFile(filepath.Join(src, "SingletonCookie"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(filepath.Join(src, "Default", "Preferences"), 0o600))

	var buf bytes.Buffer
	require.NoError(t, Archive(src, &buf, chromiumLocks...))

	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Restore(&buf, dst))

	assert.Equal(t, "state", readFile(t, filepath.Join(dst, "Local State")))
	assert.Equal(t, "prefs", readFile(t, filepath.Join(dst, "Default", "Preferences")))
	assert.Equal(t, "idb", readFile(t, filepath.Join(dst, "Default", "IndexedDB", "a", "log")))
	assert.False(t, Locked(dst, chromiumLocks...))

	fi, err := os.Stat(filepath.Join(dst, "Default", "Preferences"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestArchiveFileRoundTrip(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	writeTree(t, src, map[string]string{"Default/identities": "alice"})

	archive := filepath.Join(t.TempDir(), "baseline"+ArchiveExt)
	require.NoError(t, ArchiveFile(src, archive))
	assert.True(t, IsArchive(archive))

	dst := t.TempDir()
	require.NoError(t, RestoreFile(archive, dst))
	assert.Equal(t, "alice", readFile(t, filepath.Join(dst, "Default", "identities")))
}

type tarEntry struct {
	name     string
	typeflag byte
	body     string
	link     string
}

// tarball builds a zstd compressed tar stream by hand, for entries Archive
// would never write.
func tarball(t *testing.T, entries ...tarEntry) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(enc)
	for _, e := range entries {
		mode := int64(0o644)
		if e.typeflag == tar.TypeDir {
			mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     mode,
			Size:     int64(len(e.body)),
			Typeflag: e.typeflag,
			Linkname: e.link,
		}))
		if e.body != "" {
			_, err = tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, enc.Close())
	return &buf
}

func TestRestoreRejectsEscapingEntries(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	tests := []struct {
		name    string
		entries func(outside string) []tarEntry
	}{
		{
			name: "parent path",
			entries: func(string) []tarEntry {
				return []tarEntry{{name: "../outside/evil", typeflag: tar.TypeReg, body: "pwned"}}
			},
		},
		{
			name: "absolute symlink then write through it",
			entries: func(outside string) []tarEntry {
				return []tarEntry{
					{name: "link", typeflag: tar.TypeSymlink, link: outside},
					{name: "link/evil", typeflag: tar.TypeReg, body: "pwned"},
				}
			},
		},
		{
			name: "relative symlink leaving the directory",
			entries: func(string) []tarEntry {
				return []tarEntry{{name: "Default/link", typeflag: tar.TypeSymlink, link: "../../outside"}}
			},
		},
		{
			name: "write below an inner symlink",
			entries: func(string) []tarEntry {
				return []tarEntry{
					{name: "here", typeflag: tar.TypeSymlink, link: "."},
					{name: "here/evil", typeflag: tar.TypeReg, body: "pwned"},
				}
			},
		},
		{
			name: "overwrite a symlink",
			entries: func(string) []tarEntry {
				return []tarEntry{
					{name: "Preferences", typeflag: tar.TypeReg, body: "{}"},
					{name: "prefs", typeflag: tar.TypeSymlink, link: "Preferences"},
					{name: "prefs", typeflag: tar.TypeReg, body: "pwned"},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			outside := filepath.Join(parent, "outside")
			require.NoError(t, os.Mkdir(outside, 0o755))
			dst := filepath.Join(parent, "restored")

			err := Restore(tarball(t, tt.entries(outside)...), dst)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "escapes")

			_, statErr := os.Stat(filepath.Join(outside, "evil"))
			assert.ErrorIs(t, statErr, os.ErrNotExist)
			if b, err := os.ReadFile(filepath.Join(dst, "Preferences")); err == nil {
				assert.Equal(t, "{}", string(b))
			}
		})
	}
}

func TestRestoreAcceptsRootEntry(t *testing.T) {
	t.Parallel()
	archive := tarball(t,
		tarEntry{name: "./", typeflag: tar.TypeDir},
		tarEntry{name: "./Default/", typeflag: tar.TypeDir},
		tarEntry{name: "./Default/Preferences", typeflag: tar.TypeReg, body: "prefs"},
		tarEntry{name: "./Default/Prefs.link", typeflag: tar.TypeSymlink, link: "Preferences"},
	)

	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Restore(archive, dst))
	assert.Equal(t, "prefs", readFile(t, filepath.Join(dst, "Default", "Preferences")))
	if runtime.GOOS != "windows" {
		assert.Equal(t, "prefs", readFile(t, filepath.Join(dst, "Default", "Prefs.link")))
	}
}

func TestRestoreMissingArchive(t *testing.T) {
	t.Parallel()
	err := RestoreFile(filepath.Join(t.TempDir(), "missing"+ArchiveExt), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
