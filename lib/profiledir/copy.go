package profiledir

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// Copy recursively copies the contents of src into dst, creating dst if needed.
// Regular files, directories and symlinks are reproduced with their modes;
// sockets, devices and any entry whose base name is listed in skip are left out.
// The source must not be in use by a live browser while it is copied.
func Copy(src, dst string, skip ...string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return &CopyError{Src: src, Dst: dst, Err: err}
	}
	if !fi.IsDir() {
		return &CopyError{Src: src, Dst: dst, Err: errors.New("source is not a directory")}
	}
	if err := os.MkdirAll(dst, fi.Mode().Perm()|0o700); err != nil {
		return &CopyError{Src: src, Dst: dst, Err: err}
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &CopyError{Src: src, Dst: dst, Path: path, Err: walkErr}
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &CopyError{Src: src, Dst: dst, Path: path, Err: err}
		}
		if rel == "." {
			return nil
		}
		if slices.Contains(skip, d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return &CopyError{Src: src, Dst: dst, Path: path, Err: err}
		}
		switch mode := info.Mode(); {
		case mode.IsDir():
			err = os.MkdirAll(target, mode.Perm()|0o700)
		case mode&os.ModeSymlink != 0:
			err = copySymlink(path, target)
		case mode.IsRegular():
			err = copyFile(path, target, mode.Perm())
		default:
			// sockets, pipes and devices only make sense to the process that made them
			return nil
		}
		if err != nil {
			return &CopyError{Src: src, Dst: dst, Path: path, Err: err}
		}
		return nil
	})
}

func copySymlink(src, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return err
	}
	return os.Symlink(link, dst)
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
