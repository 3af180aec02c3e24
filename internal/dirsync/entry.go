package dirsync

import (
	"fmt"
	"io/fs"
	"sort"
	"time"
)

// EntryKind is the type of filesystem object an Entry describes
type EntryKind uint8

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
)

var entryKindNames = []string{
	"file",
	"dir",
	"symlink",
}

func (k EntryKind) String() string {
	if int(k) < len(entryKindNames) {
		return entryKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Entry is one filesystem object under a tree root.
type Entry struct {
	RelPath     string
	Kind        EntryKind
	Size        int64
	ModTime     time.Time
	Mode        fs.FileMode
	LinkTarget  string
	ContentHash string
	Warning     *PartialScanWarning
}

func (e *Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s %s size=%d mtime=%s", e.Kind, e.RelPath, e.Size, e.ModTime.Format(time.RFC3339))
}

// Manifest maps relative paths to entries for exactly one root at one point in time.
type Manifest struct {
	Root     string
	Entries  map[string]*Entry
	Warnings []*PartialScanWarning
}

func NewManifest(root string) *Manifest {
	return &Manifest{
		Root:    root,
		Entries: make(map[string]*Entry),
	}
}

// Add records an entry under its RelPath, replacing any previous one.
func (m *Manifest) Add(e *Entry) {
	m.Entries[e.RelPath] = e
	if e.Warning != nil {
		m.Warnings = append(m.Warnings, e.Warning)
	}
}

// Warn records a warning that has no entry of its own, such as a child that
// could not be stat'ed.
func (m *Manifest) Warn(w *PartialScanWarning) {
	m.Warnings = append(m.Warnings, w)
}

func (m *Manifest) Get(relPath string) (*Entry, bool) {
	e, ok := m.Entries[relPath]
	return e, ok
}

func (m *Manifest) Len() int {
	return len(m.Entries)
}

// Paths returns every key in lexical order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Files returns the number of non-directory entries.
func (m *Manifest) Files() int {
	n := 0
	for _, e := range m.Entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

// TotalSize sums the size of all file entries.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Entries {
		if e.Kind == KindFile {
			total += e.Size
		}
	}
	return total
}

// Diff lists the paths at which m and other disagree. Directories compare by
// kind only, files by size and modification time within tolerance, symlinks by target.
func (m *Manifest) Diff(other *Manifest, tolerance time.Duration) []string {
	var diffs []string
	for p, a := range m.Entries {
		b, ok := other.Entries[p]
		if !ok || !sameEntry(a, b, tolerance) {
			diffs = append(diffs, p)
		}
	}
	for p := range other.Entries {
		if _, ok := m.Entries[p]; !ok {
			diffs = append(diffs, p)
		}
	}
	sort.Strings(diffs)
	return diffs
}

// Equivalent reports whether both manifests describe the same tree modulo
// timestamp tolerance.
func (m *Manifest) Equivalent(other *Manifest, tolerance time.Duration) bool {
	return len(m.Diff(other, tolerance)) == 0
}

func sameEntry(a, b *Entry, tolerance time.Duration) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindDirectory:
		return true
	case KindSymlink:
		return a.LinkTarget == b.LinkTarget
	}
	return a.Size == b.Size && withinTolerance(a.ModTime, b.ModTime, tolerance)
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	return delta < tolerance
}
