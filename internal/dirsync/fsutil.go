package dirsync

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// lstat stats name without following a final symlink when the filesystem allows it.
func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return fsys.Stat(name)
}

func readlink(fsys afero.Fs, name string) (string, error) {
	if r, ok := fsys.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(name)
	}
	return "", &fs.PathError{Op: "readlink", Path: name, Err: ErrSymlinkUnsupport}
}

func symlink(fsys afero.Fs, target, name string) error {
	if l, ok := fsys.(afero.Linker); ok {
		return l.SymlinkIfPossible(target, name)
	}
	return &fs.PathError{Op: "symlink", Path: name, Err: ErrSymlinkUnsupport}
}

// hashFile streams name through sha256.
func hashFile(fsys afero.Fs, name string) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sameContent reports whether two existing paths hold the same content.
func sameContent(fsys afero.Fs, a, b string) (bool, error) {
	ai, err := lstat(fsys, a)
	if err != nil {
		return false, err
	}
	bi, err := lstat(fsys, b)
	if err != nil {
		return false, err
	}

	if ai.Mode().Type() != bi.Mode().Type() {
		return false, nil
	}
	switch {
	case ai.IsDir():
		return true, nil
	case ai.Mode()&fs.ModeSymlink != 0:
		at, err := readlink(fsys, a)
		if err != nil {
			return false, err
		}
		bt, err := readlink(fsys, b)
		if err != nil {
			return false, err
		}
		return at == bt, nil
	}

	if ai.Size() != bi.Size() {
		return false, nil
	}
	ah, err := hashFile(fsys, a)
	if err != nil {
		return false, err
	}
	bh, err := hashFile(fsys, b)
	if err != nil {
		return false, err
	}
	return ah == bh, nil
}

// tempPattern is the afero.TempFile pattern for a file about to replace target.
func tempPattern(target string) string {
	return "." + filepath.Base(target) + tempMarker + "*"
}

// writeTemp copies r into a fresh temp file beside target, hashing as it
// goes. The temp file is synced and closed; the caller owns renaming or
// removing it.
func writeTemp(fsys afero.Fs, target string, r io.Reader) (tmpName, hash string, n int64, err error) {
	tmp, err := afero.TempFile(fsys, filepath.Dir(target), tempPattern(target))
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName = tmp.Name()

	defer func() {
		if err != nil {
			_ = fsys.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err = io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return "", "", 0, fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return "", "", 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", "", 0, fmt.Errorf("close temp file: %w", err)
	}
	return tmpName, hex.EncodeToString(h.Sum(nil)), n, nil
}

// moveAcross relocates a file or symlink when a plain rename cannot cross devices.
func moveAcross(fsys afero.Fs, src, dst string) error {
	fi, err := lstat(fsys, src)
	if err != nil {
		return err
	}

	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := readlink(fsys, src)
		if err != nil {
			return err
		}
		if err := symlink(fsys, target, dst); err != nil {
			return err
		}
		return fsys.Remove(src)
	}

	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	tmpName, _, _, err := writeTemp(fsys, dst, in)
	in.Close()
	if err != nil {
		return err
	}
	if err := fsys.Chmod(tmpName, fi.Mode().Perm()); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := fsys.Chtimes(tmpName, fi.ModTime(), fi.ModTime()); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	if err := fsys.Rename(tmpName, dst); err != nil {
		_ = fsys.Remove(tmpName)
		return err
	}
	return fsys.Remove(src)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
