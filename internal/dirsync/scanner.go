package dirsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// Scanner walks a tree and produces its Manifest. Symlinks are recorded, never followed.
type Scanner struct {
	fs        afero.Fs
	compareBy CompareBy
	ignore    *IgnoreList
	hashes    *HashCache
}

func NewScanner(fsys afero.Fs, compareBy CompareBy, ignore *IgnoreList, hashes *HashCache) *Scanner {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Scanner{
		fs:        fsys,
		compareBy: compareBy,
		ignore:    ignore,
		hashes:    hashes,
	}
}

// Scan fails with a *ScanError when root is not a readable directory. Read
// failures below the root become PartialScanWarnings.
func (s *Scanner) Scan(ctx context.Context, root string) (*Manifest, error) {
	start := time.Now()

	fi, err := s.fs.Stat(root)
	if err != nil {
		return nil, rootError(root, err)
	}
	if !fi.IsDir() {
		return nil, &ScanError{Root: root, Kind: ScanNotADirectory}
	}

	names, err := s.readDirNames(root)
	if err != nil {
		return nil, rootError(root, err)
	}

	m := NewManifest(root)
	if err := s.walkChildren(ctx, m, "", names); err != nil {
		return nil, err
	}

	slog.Debug("scan", "root", root, "entries", m.Len(), "warnings", len(m.Warnings), "took", time.Since(start))
	return m, nil
}

func rootError(root string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &ScanError{Root: root, Kind: ScanNotFound, Err: err}
	}
	// anything else leaves us unable to list the root
	return &ScanError{Root: root, Kind: ScanPermissionDenied, Err: err}
}

func (s *Scanner) walkChildren(ctx context.Context, m *Manifest, dirRel string, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, name := range names {
		rel := name
		if dirRel != "" {
			rel = dirRel + "/" + name
		}
		if err := s.visit(ctx, m, rel); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) visit(ctx context.Context, m *Manifest, rel string) error {
	full := joinRoot(m.Root, rel)

	fi, err := lstat(s.fs, full)
	if err != nil {
		if isNotExist(err) {
			// vanished between listing and stat
			return nil
		}
		m.Warn(&PartialScanWarning{RelPath: rel, Err: err})
		slog.Warn("scan stat failed", "path", rel, "error", err)
		return nil
	}

	mode := fi.Mode()
	if s.ignore.ShouldIgnore(rel, mode.IsDir()) {
		return nil
	}

	entry := &Entry{
		RelPath: rel,
		ModTime: fi.ModTime(),
		Mode:    mode.Perm(),
	}

	switch {
	case mode&fs.ModeSymlink != 0:
		entry.Kind = KindSymlink
		target, err := readlink(s.fs, full)
		if err != nil {
			entry.Warning = &PartialScanWarning{RelPath: rel, Err: err}
		}
		entry.LinkTarget = filepath.ToSlash(target)
		m.Add(entry)

	case mode.IsDir():
		entry.Kind = KindDirectory
		names, err := s.readDirNames(full)
		if err != nil {
			entry.Warning = &PartialScanWarning{RelPath: rel, Err: err}
			slog.Warn("scan read dir failed", "path", rel, "error", err)
			m.Add(entry)
			return nil
		}
		m.Add(entry)
		return s.walkChildren(ctx, m, rel, names)

	case mode.IsRegular():
		entry.Kind = KindFile
		entry.Size = fi.Size()
		if s.compareBy == CompareHash {
			hash, err := s.contentHash(full, fi)
			if err != nil {
				entry.Warning = &PartialScanWarning{RelPath: rel, Err: err}
				slog.Warn("scan hash failed", "path", rel, "error", err)
			}
			entry.ContentHash = hash
		}
		m.Add(entry)

	default:
		m.Warn(&PartialScanWarning{RelPath: rel, Err: fmt.Errorf("unsupported file type %s", mode.Type())})
	}
	return nil
}

func (s *Scanner) contentHash(full string, fi os.FileInfo) (string, error) {
	if hash, ok := s.hashes.Get(full, fi); ok {
		return hash, nil
	}
	hash, err := hashFile(s.fs, full)
	if err != nil {
		return "", err
	}
	s.hashes.Add(full, fi, hash)
	return hash, nil
}

// readDirNames lists dir without stat'ing its children so that one bad child
// does not hide its siblings.
func (s *Scanner) readDirNames(dir string) ([]string, error) {
	f, err := s.fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
