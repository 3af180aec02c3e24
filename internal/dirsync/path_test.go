package dirsync

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b", NormPath("a/b/"))
	assert.Equal(t, "a/b", NormPath("/a/./b"))
	if runtime.GOOS == "windows" {
		assert.Equal(t, "a/b", NormPath(`a\b`))
	} else {
		// a backslash is part of the name on unix
		assert.Equal(t, `we\ird.txt`, NormPath(`we\ird.txt`))
	}

	assert.True(t, isNormPath("a/b"))
	assert.False(t, isNormPath(""))
	assert.False(t, isNormPath("./a"))
	assert.False(t, isNormPath("../a"))
	assert.False(t, isNormPath("a//b"))
	assert.False(t, isNormPath("/a"))
	assert.True(t, isNormPath(`dir/we\ird.txt`))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "", parentOf("a"))
	assert.Equal(t, "a/b", parentOf("a/b/c"))
	assert.Equal(t, 2, depthOf("a/b/c"))

	assert.True(t, isWithin("a/b", "a"))
	assert.True(t, isWithin("a", "a"))
	assert.False(t, isWithin("ab", "a"))
	assert.True(t, isWithin("anything", ""))

	set := map[string]struct{}{"x/y": {}}
	assert.True(t, hasAncestorIn("x/y/z/w", set))
	assert.True(t, hasAncestorIn("x/y", set))
	assert.False(t, hasAncestorIn("x/z", set))
}

func TestRelWithin(t *testing.T) {
	root := filepath.FromSlash("/data/dst")

	rel, ok := relWithin(root, filepath.Join(root, "vault", "x"))
	assert.True(t, ok)
	assert.Equal(t, "vault/x", rel)

	rel, ok = relWithin(root, root)
	assert.True(t, ok)
	assert.Empty(t, rel)

	_, ok = relWithin(root, filepath.FromSlash("/data/dst-other"))
	assert.False(t, ok)
}

func TestManifest(t *testing.T) {
	m := manifestOf("/r",
		dirEntry("d"),
		fileEntry("d/a", 3, baseTime),
		fileEntry("b", 4, baseTime),
		&Entry{RelPath: "l", Kind: KindSymlink, LinkTarget: "b"},
	)
	assert.Equal(t, []string{"b", "d", "d/a", "l"}, m.Paths())
	assert.Equal(t, 3, m.Files())
	assert.EqualValues(t, 7, m.TotalSize())

	other := manifestOf("/o",
		dirEntry("d"),
		fileEntry("d/a", 3, baseTime.Add(time.Second)),
		fileEntry("b", 5, baseTime),
		&Entry{RelPath: "l", Kind: KindSymlink, LinkTarget: "elsewhere"},
		fileEntry("extra", 1, baseTime),
	)
	assert.Equal(t, []string{"b", "extra", "l"}, m.Diff(other, DefaultModTimeTolerance))
	assert.False(t, m.Equivalent(other, DefaultModTimeTolerance))
	assert.True(t, m.Equivalent(m, 0))
}
