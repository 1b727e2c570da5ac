package profiledir

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ArchiveExt is the file extension used for archived profiles.
const ArchiveExt = ".tar.zst"

// IsArchive reports whether path names an archived profile.
func IsArchive(path string) bool {
	return strings.HasSuffix(path, ArchiveExt)
}

// Archive writes the closed profile at dir to w as a zstd compressed tarball.
// Entries named in skip are left out, like Copy.
func Archive(dir string, w io.Writer, skip ...string) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		if slices.Contains(skip, d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()
		if !mode.IsDir() && !mode.IsRegular() && mode&os.ModeSymlink == 0 {
			return nil
		}

		var link string
		if mode&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !mode.IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	if err := errors.Join(walkErr, tw.Close(), enc.Close()); err != nil {
		return fmt.Errorf("failed to archive profile %s: %w", dir, err)
	}
	return nil
}

// Restore extracts an archive produced by Archive into dir, creating it if
// needed. Entries that would land outside dir are rejected, as are symlinks
// pointing outside dir and entries below a symlink, so nothing is ever
// written through a link.
func Restore(r io.Reader, dir string) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	root := filepath.Clean(dir)

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read profile archive: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if !within(root, target) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dir)
		}
		if target == root {
			continue
		}
		if link, err := symlinkParent(root, target); err != nil {
			return err
		} else if link != "" {
			return fmt.Errorf("archive entry %q escapes %s through symlink %s", hdr.Name, dir, link)
		}
		mode := fs.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) || !within(root, filepath.Join(filepath.Dir(target), hdr.Linkname)) {
				return fmt.Errorf("archive entry %q escapes %s: links to %s", hdr.Name, dir, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeEntry(target, tr, mode); err != nil {
				return err
			}
		}
	}
}

// within reports whether path is root or lies below it. Both are clean.
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// symlinkParent returns the first existing symlink among the components of
// target below root, target itself included.
func symlinkParent(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	p := root
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		p = filepath.Join(p, part)
		fi, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return p, nil
		}
	}
	return "", nil
}

func writeEntry(path string, r io.Reader, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ArchiveFile writes the archive of dir to the file at path.
func ArchiveFile(dir, path string, skip ...string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	if err := Archive(dir, f, skip...); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// RestoreFile extracts the archive at path into dir.
func RestoreFile(path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()
	return Restore(f, dir)
}
