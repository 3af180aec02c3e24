package dirsync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// vault directory per run, `20060102150405`, then `20060102150405-N` for
// later runs that start within the same second
const (
	vaultTimeFormat = "20060102150405"
	maxVaultClaims  = 1000
)

// ArchiveResult describes where an archived entry ended up.
type ArchiveResult struct {
	RelPath   string
	VaultPath string

	// AlreadyArchived means an identical copy was already in the vault
	AlreadyArchived bool

	// Missing means the destination entry was gone before we got to it
	Missing bool
}

// ArchiveVault moves destination entries aside into vaultRoot/<timestamp>/<relPath>
// instead of deleting or overwriting them.
type ArchiveVault struct {
	fs       afero.Fs
	destRoot string
	root     string
	stamp    string
}

func NewArchiveVault(fsys afero.Fs, destRoot, vaultRoot string, ts time.Time) *ArchiveVault {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &ArchiveVault{
		fs:       fsys,
		destRoot: destRoot,
		root:     vaultRoot,
		stamp:    ts.Format(vaultTimeFormat),
	}
}

// Dir is the per-run vault directory.
func (v *ArchiveVault) Dir() string {
	return filepath.Join(v.root, v.stamp)
}

// Reserve claims a per-run directory no other run uses: the timestamp, or the
// first free `<timestamp>-N`. The directory is created so concurrent claims
// cannot both win.
func (v *ArchiveVault) Reserve() error {
	if err := v.fs.MkdirAll(v.root, 0o755); err != nil {
		return fmt.Errorf("create vault root: %w", err)
	}
	base := v.stamp
	for n := 1; n <= maxVaultClaims; n++ {
		err := v.fs.Mkdir(v.Dir(), 0o755)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create vault dir: %w", err)
		}
		v.stamp = fmt.Sprintf("%s-%d", base, n)
	}
	return fmt.Errorf("create vault dir: %d runs already claimed %s", maxVaultClaims, base)
}

// release drops the run directory again when nothing was archived into it
// and reports whether it did.
func (v *ArchiveVault) release() bool {
	// Remove refuses non-empty directories
	return v.fs.Remove(v.Dir()) == nil
}

// PathFor maps a destination relative path to its vault location.
func (v *ArchiveVault) PathFor(relPath string) string {
	return joinRoot(v.Dir(), relPath)
}

// Archive relocates the destination copy of entry. It never overwrites a
// different file already in the vault; that case is an *ArchiveError.
func (v *ArchiveVault) Archive(entry *Entry) (ArchiveResult, error) {
	src := joinRoot(v.destRoot, entry.RelPath)
	dst := v.PathFor(entry.RelPath)
	res := ArchiveResult{RelPath: entry.RelPath, VaultPath: dst}

	fi, err := lstat(v.fs, src)
	if isNotExist(err) {
		if _, verr := lstat(v.fs, dst); verr == nil {
			// moved by an earlier attempt
			res.AlreadyArchived = true
		} else {
			res.Missing = true
		}
		return res, nil
	} else if err != nil {
		return res, err
	}

	if fi.IsDir() {
		if err := v.fs.MkdirAll(dst, fi.Mode().Perm()|0o700); err != nil {
			return res, fmt.Errorf("create vault dir: %w", err)
		}
		if err := v.fs.Remove(src); err != nil && !isNotExist(err) {
			return res, err
		}
		return res, nil
	}

	if err := v.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return res, fmt.Errorf("create vault dir: %w", err)
	}

	if _, err := lstat(v.fs, dst); err == nil {
		same, err := sameContent(v.fs, src, dst)
		if err != nil {
			return res, &ArchiveError{RelPath: entry.RelPath, VaultPath: dst, Err: err}
		}
		if !same {
			return res, &ArchiveError{RelPath: entry.RelPath, VaultPath: dst, Err: ErrVaultCollision}
		}
		if err := v.fs.Remove(src); err != nil && !isNotExist(err) {
			return res, err
		}
		res.AlreadyArchived = true
		return res, nil
	} else if !isNotExist(err) {
		return res, err
	}

	if err := v.fs.Rename(src, dst); err != nil {
		if !isCrossDevice(err) {
			return res, err
		}
		slog.Debug("archive across devices", "path", entry.RelPath, "vault", dst)
		if err := moveAcross(v.fs, src, dst); err != nil {
			return res, err
		}
	}

	slog.Debug("archived", "path", entry.RelPath, "vault", dst)
	return res, nil
}
