package dirsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// faultFs wraps the OS filesystem and fails selected calls. Paths are matched
// by suffix so tests can name them relative to any root.
type faultFs struct {
	afero.Fs

	mu          sync.Mutex
	openErrs    map[string]error
	mkdirErrs   map[string]error
	renameErrs  map[string][]error
	renameCalls map[string]int
}

func newFaultFs() *faultFs {
	return &faultFs{
		Fs:          afero.NewOsFs(),
		openErrs:    make(map[string]error),
		mkdirErrs:   make(map[string]error),
		renameErrs:  make(map[string][]error),
		renameCalls: make(map[string]int),
	}
}

func matchSuffix(name, suffix string) bool {
	name = filepath.ToSlash(name)
	return name == suffix || strings.HasSuffix(name, "/"+suffix)
}

func (f *faultFs) lookup(m map[string]error, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for suffix, err := range m {
		if matchSuffix(name, suffix) {
			return err
		}
	}
	return nil
}

// failOpen makes every Open of the path fail with err.
func (f *faultFs) failOpen(suffix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs[suffix] = err
}

func (f *faultFs) failMkdir(suffix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkdirErrs[suffix] = err
}

// failRename queues errors returned by successive renames onto the path.
func (f *faultFs) failRename(suffix string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameErrs[suffix] = append(f.renameErrs[suffix], errs...)
}

func (f *faultFs) renames(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renameCalls[suffix]
}

func (f *faultFs) Open(name string) (afero.File, error) {
	if err := f.lookup(f.openErrs, name); err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return f.Fs.Open(name)
}

func (f *faultFs) MkdirAll(name string, perm os.FileMode) error {
	if err := f.lookup(f.mkdirErrs, name); err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return f.Fs.MkdirAll(name, perm)
}

func (f *faultFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	var injected error
	for suffix, errs := range f.renameErrs {
		if matchSuffix(newname, suffix) {
			f.renameCalls[suffix]++
			if len(errs) > 0 {
				injected = errs[0]
				f.renameErrs[suffix] = errs[1:]
			}
		}
	}
	f.mu.Unlock()

	if injected != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: injected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	return f.Fs.(afero.Lstater).LstatIfPossible(name)
}

func (f *faultFs) SymlinkIfPossible(oldname, newname string) error {
	return f.Fs.(afero.Linker).SymlinkIfPossible(oldname, newname)
}

func (f *faultFs) ReadlinkIfPossible(name string) (string, error) {
	return f.Fs.(afero.LinkReader).ReadlinkIfPossible(name)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// makeTree creates files (content as value) and directories (key ending in "/")
// under root. Every file gets baseTime as mtime.
func makeTree(t *testing.T, root string, tree map[string]string) {
	t.Helper()
	for rel, content := range tree {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(rel, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		writeFile(t, full, content, baseTime)
	}
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func scanDir(t *testing.T, root string) *Manifest {
	t.Helper()
	m, err := NewScanner(afero.NewOsFs(), CompareSizeAndTime, NewIgnoreList(nil, nil), nil).Scan(context.Background(), root)
	require.NoError(t, err)
	return m
}

// testConfig keeps retries fast.
func testConfig() SyncSessionConfig {
	cfg := DefaultConfig()
	cfg.BackoffBase = time.Millisecond
	return cfg
}

// roots returns fresh source and destination directories.
func roots(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	src := filepath.Join(base, "src")
	dst := filepath.Join(base, "dst")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(dst, 0o755))
	return src, dst
}

func fileEntry(rel string, size int64, mtime time.Time) *Entry {
	return &Entry{RelPath: rel, Kind: KindFile, Size: size, ModTime: mtime, Mode: 0o644}
}

func dirEntry(rel string) *Entry {
	return &Entry{RelPath: rel, Kind: KindDirectory, ModTime: baseTime, Mode: 0o755}
}

func manifestOf(root string, entries ...*Entry) *Manifest {
	m := NewManifest(root)
	for _, e := range entries {
		m.Add(e)
	}
	return m
}

func opKinds(p *Plan) []string {
	out := make([]string, 0, p.Len())
	for _, op := range p.Operations {
		out = append(out, op.Kind.String()+" "+op.RelPath)
	}
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
