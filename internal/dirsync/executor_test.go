package dirsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// planFor scans both roots and plans them under mode.
func planFor(t *testing.T, fsys afero.Fs, src, dst string, mode SyncMode) *Plan {
	t.Helper()
	srcM, err := NewScanner(fsys, CompareSizeAndTime, nil, nil).Scan(context.Background(), src)
	require.NoError(t, err)
	dstM, err := NewScanner(fsys, CompareSizeAndTime, nil, nil).Scan(context.Background(), dst)
	require.NoError(t, err)
	plan, err := NewPlanner(0).Plan(srcM, dstM, SyncPolicy{Mode: mode})
	require.NoError(t, err)
	return plan
}

func newTestExecutor(fsys afero.Fs, src, dst string, vault *ArchiveVault) *Executor {
	return NewExecutor(ExecutorConfig{
		Fs:          fsys,
		SourceRoot:  src,
		DestRoot:    dst,
		Vault:       vault,
		BackoffBase: time.Millisecond,
	})
}

func resultFor(t *testing.T, report *RunReport, kind OpKind, rel string) OperationResult {
	t.Helper()
	for _, res := range report.Results() {
		if res.Operation.Kind == kind && res.Operation.RelPath == rel {
			return res
		}
	}
	require.FailNow(t, "no result", "%s %s", kind, rel)
	return OperationResult{}
}

func TestExecute_CreateIntoEmpty(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{
		"a.txt":     "12345",
		"sub/b.txt": "b",
	})

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)
	assert.Less(t, plan.Index(OpCreate, "sub"), plan.Index(OpCreate, "sub/b.txt"))

	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)
	assert.Equal(t, StatusCompleted, report.Status())
	assert.Equal(t, "SUMMARY created=2 updated=0 deleted=0 skipped=0 failed=0", report.Summary().String())
	assert.Len(t, report.Results(), 3)

	assert.True(t, scanDir(t, dst).Equivalent(scanDir(t, src), DefaultModTimeTolerance))

	// nothing left behind by the temp-then-rename writes
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tempMarker)
	}
}

func TestExecute_MirrorDeletesExtra(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{"keep.txt": "k"})
	makeTree(t, dst, map[string]string{"keep.txt": "k", "old.txt": "o", "olddir/x.txt": "x"})

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)
	assert.Equal(t, []string{"DELETE olddir/x.txt", "DELETE olddir", "DELETE old.txt", "SKIP keep.txt"}, opKinds(plan))

	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)
	assert.Zero(t, report.Failures())
	assert.NoFileExists(t, filepath.Join(dst, "old.txt"))
	assert.NoDirExists(t, filepath.Join(dst, "olddir"))
	assert.FileExists(t, filepath.Join(dst, "keep.txt"))

	s := report.Summary()
	assert.Equal(t, 2, s.Deleted, "directory removal is not counted")
	assert.Equal(t, 1, s.Skipped)
}

func TestExecute_UpdateReplacesContent(t *testing.T) {
	src, dst := roots(t)
	writeFile(t, filepath.Join(src, "a.txt"), "new content", baseTime.Add(time.Hour))
	writeFile(t, filepath.Join(dst, "a.txt"), "old", baseTime)

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)
	require.Equal(t, []string{"UPDATE a.txt"}, opKinds(plan))

	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)
	assert.Equal(t, 1, report.Summary().Updated)

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	fi, err := os.Stat(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(baseTime.Add(time.Hour)), "file mtime follows source")
}

func TestExecute_PermanentFailureDoesNotStopRun(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{
		"a.txt":   "a",
		"bad.txt": "b",
		"c.txt":   "c",
	})

	fsys := newFaultFs()
	fsys.failOpen("src/bad.txt", os.ErrPermission)

	plan := planFor(t, fsys, src, dst, ModeMirror)
	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)

	assert.Equal(t, StatusCompleted, report.Status())
	assert.Equal(t, 1, report.Failures())
	assert.Equal(t, "completed (failures=1)", report.Describe())

	bad := resultFor(t, report, OpCreate, "bad.txt")
	assert.Equal(t, OutcomeFailed, bad.Outcome.Kind)
	assert.Equal(t, 1, bad.Attempts, "permanent errors are not retried")
	assert.Contains(t, bad.Outcome.Reason, "permission denied")

	assert.FileExists(t, filepath.Join(dst, "a.txt"))
	assert.FileExists(t, filepath.Join(dst, "c.txt"))
	assert.NoFileExists(t, filepath.Join(dst, "bad.txt"))
}

func TestExecute_TransientFailureIsRetried(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{"busy.txt": "b"})

	fsys := newFaultFs()
	fsys.failRename("dst/busy.txt", syscall.EBUSY)

	plan := planFor(t, fsys, src, dst, ModeMirror)
	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)

	res := resultFor(t, report, OpCreate, "busy.txt")
	assert.Equal(t, Retried(1), res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, fsys.renames("dst/busy.txt"))
	assert.Zero(t, report.Failures())
	assert.Equal(t, 1, report.Summary().Created)
	assert.Contains(t, LogLine(res), "RETRIED(1) CREATE busy.txt")
}

func TestExecute_TransientFailureGivesUp(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{"busy.txt": "b"})

	fsys := newFaultFs()
	fsys.failRename("dst/busy.txt", syscall.EBUSY, syscall.EBUSY, syscall.EBUSY, syscall.EBUSY)

	plan := planFor(t, fsys, src, dst, ModeMirror)
	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)

	res := resultFor(t, report, OpCreate, "busy.txt")
	assert.Equal(t, OutcomeFailed, res.Outcome.Kind)
	assert.Equal(t, DefaultRetryLimit, res.Attempts)
	assert.NoFileExists(t, filepath.Join(dst, "busy.txt"))
}

func TestExecute_FailedDirectoryFailsChildren(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{
		"sub/b.txt":      "b",
		"sub/deep/c.txt": "c",
		"top.txt":        "t",
	})

	fsys := newFaultFs()
	fsys.failMkdir("dst/sub", os.ErrPermission)

	plan := planFor(t, fsys, src, dst, ModeMirror)
	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)

	for _, rel := range []string{"sub/b.txt", "sub/deep", "sub/deep/c.txt"} {
		res := resultFor(t, report, OpCreate, rel)
		assert.Equal(t, OutcomeFailed, res.Outcome.Kind, rel)
		assert.True(t, strings.HasPrefix(res.Outcome.Reason, "dependency failed"), res.Outcome.Reason)
		assert.Zero(t, res.Attempts, "dependents are never attempted")
	}
	assert.Equal(t, 4, report.Failures())
	assert.FileExists(t, filepath.Join(dst, "top.txt"))
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{"a.txt": "a", "b.txt": "b"})

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := newTestExecutor(fsys, src, dst, nil).Execute(ctx, plan)

	assert.Equal(t, StatusCancelled, report.Status())
	assert.Empty(t, report.Results())
	assert.Equal(t, plan.Len(), report.Undispatched)
	assert.NoFileExists(t, filepath.Join(dst, "a.txt"))
}

func TestExecute_CancelledMidRun(t *testing.T) {
	src, dst := roots(t)
	tree := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		tree[name+".txt"] = name
	}
	makeTree(t, src, tree)

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	executor := NewExecutor(ExecutorConfig{
		Fs:          fsys,
		SourceRoot:  src,
		DestRoot:    dst,
		Concurrency: 1,
		Observer:    ObserverFunc(func(OperationResult) { cancel() }),
	})
	report := executor.Execute(ctx, plan)

	assert.Equal(t, StatusCancelled, report.Status())
	done := len(report.Results())
	assert.GreaterOrEqual(t, done, 1)
	assert.Less(t, done, plan.Len())
	assert.Equal(t, plan.Len()-done, report.Undispatched)

	// whatever completed is whole
	for _, res := range report.Results() {
		data, err := os.ReadFile(filepath.Join(dst, res.Operation.RelPath))
		require.NoError(t, err)
		assert.Equal(t, strings.TrimSuffix(res.Operation.RelPath, ".txt"), string(data))
	}
}

func TestExecute_ArchiveMoveAndUpdate(t *testing.T) {
	src, dst := roots(t)
	writeFile(t, filepath.Join(src, "changed.txt"), "v2-longer", baseTime.Add(time.Hour))
	writeFile(t, filepath.Join(dst, "changed.txt"), "v1", baseTime)
	writeFile(t, filepath.Join(dst, "extra/gone.txt"), "bye", baseTime)

	fsys := afero.NewOsFs()
	vault := NewArchiveVault(fsys, dst, filepath.Join(filepath.Dir(dst), "vault"), vaultTime)
	plan := planFor(t, fsys, src, dst, ModeArchive)
	assert.Zero(t, plan.Count(OpDelete))

	report := newTestExecutor(fsys, src, dst, vault).Execute(context.Background(), plan)
	require.Zero(t, report.Failures())

	s := report.Summary()
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 1, s.Archived)
	assert.Equal(t, 1, s.Deleted)

	data, err := os.ReadFile(filepath.Join(dst, "changed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2-longer", string(data))

	old, err := os.ReadFile(vault.PathFor("changed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(old))
	assert.FileExists(t, vault.PathFor("extra/gone.txt"))
	assert.NoDirExists(t, filepath.Join(dst, "extra"))

	moved := resultFor(t, report, OpArchiveMove, "extra/gone.txt")
	assert.Equal(t, vault.PathFor("extra/gone.txt"), moved.VaultPath)
}

func TestExecute_ArchiveCollisionIsPermanent(t *testing.T) {
	src, dst := roots(t)
	writeFile(t, filepath.Join(dst, "x.txt"), "current", baseTime)

	fsys := afero.NewOsFs()
	vault := NewArchiveVault(fsys, dst, filepath.Join(filepath.Dir(dst), "vault"), vaultTime)
	writeFile(t, vault.PathFor("x.txt"), "something else", baseTime)

	plan := planFor(t, fsys, src, dst, ModeArchive)
	report := newTestExecutor(fsys, src, dst, vault).Execute(context.Background(), plan)

	res := resultFor(t, report, OpArchiveMove, "x.txt")
	assert.Equal(t, OutcomeFailed, res.Outcome.Kind)
	assert.Equal(t, 1, res.Attempts)
	assert.FileExists(t, filepath.Join(dst, "x.txt"))
}

func TestExecute_KindChange(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{"node/child.txt": "c", "flat": "f"})
	makeTree(t, dst, map[string]string{"node": "was a file", "flat/inner.txt": "i"})

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)
	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)
	require.Zero(t, report.Failures(), "%v", report.Results())

	assert.True(t, scanDir(t, dst).Equivalent(scanDir(t, src), DefaultModTimeTolerance))
}

func TestExecute_PreservesDirectoryTimes(t *testing.T) {
	src, dst := roots(t)
	makeTree(t, src, map[string]string{"a/b/c.txt": "c"})
	dirTime := baseTime.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(src, "a", "b"), dirTime, dirTime))
	require.NoError(t, os.Chtimes(filepath.Join(src, "a"), dirTime, dirTime))

	fsys := afero.NewOsFs()
	plan := planFor(t, fsys, src, dst, ModeMirror)
	plan.Policy.PreserveTimestamps = true

	report := newTestExecutor(fsys, src, dst, nil).Execute(context.Background(), plan)
	require.Zero(t, report.Failures())

	for _, rel := range []string{"a", "a/b"} {
		fi, err := os.Stat(filepath.Join(dst, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.True(t, fi.ModTime().Equal(dirTime), "%s mtime %s", rel, fi.ModTime())
	}
}

func TestBuildTasks_Dependencies(t *testing.T) {
	plan := &Plan{Operations: []Operation{
		{Kind: OpDelete, RelPath: "x/inner", Dest: fileEntry("x/inner", 1, baseTime)},
		{Kind: OpDelete, RelPath: "x", Dest: dirEntry("x")},
		{Kind: OpCreate, RelPath: "x", Source: fileEntry("x", 1, baseTime)},
		{Kind: OpCreate, RelPath: "y", Source: dirEntry("y")},
		{Kind: OpCreate, RelPath: "y/z", Source: fileEntry("y/z", 1, baseTime)},
		{Kind: OpSkip, RelPath: "w", Source: fileEntry("w", 1, baseTime), Dest: fileEntry("w", 1, baseTime)},
	}}

	tasks := buildTasks(plan)
	assert.Equal(t, 0, tasks[0].waiting)
	assert.Equal(t, 1, tasks[1].waiting, "dir delete waits on child delete")
	assert.Equal(t, 1, tasks[2].waiting, "create waits on delete of same path")
	assert.Equal(t, 0, tasks[3].waiting)
	assert.Equal(t, 1, tasks[4].waiting, "child create waits on parent create")
	assert.Equal(t, 0, tasks[5].waiting)
	assert.Equal(t, []int{1}, tasks[0].dependents)
	assert.Equal(t, []int{4}, tasks[3].dependents)
}

func TestExecute_KeepsHashCacheCurrent(t *testing.T) {
	src, dst := roots(t)
	writeFile(t, filepath.Join(src, "a.txt"), "fresh", baseTime.Add(time.Hour))
	writeFile(t, filepath.Join(dst, "a.txt"), "stale", baseTime)
	writeFile(t, filepath.Join(dst, "old.txt"), "old", baseTime)

	fsys := afero.NewOsFs()
	aPath := filepath.Join(dst, "a.txt")
	oldPath := filepath.Join(dst, "old.txt")
	cache := NewHashCache(16)
	for _, p := range []string{aPath, oldPath} {
		fi, err := os.Lstat(p)
		require.NoError(t, err)
		cache.Add(p, fi, "before")
	}

	plan := planFor(t, fsys, src, dst, ModeMirror)
	require.Equal(t, []string{"DELETE old.txt", "UPDATE a.txt"}, opKinds(plan))
	report := NewExecutor(ExecutorConfig{
		Fs:          fsys,
		SourceRoot:  src,
		DestRoot:    dst,
		BackoffBase: time.Millisecond,
		Hashes:      cache,
	}).Execute(context.Background(), plan)
	require.Zero(t, report.Failures())

	fi, err := os.Lstat(aPath)
	require.NoError(t, err)
	hash, ok := cache.Get(aPath, fi)
	require.True(t, ok, "written file is cached")
	want, err := hashFile(fsys, filepath.Join(src, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, want, hash)

	assert.Equal(t, 1, cache.Len(), "deleted file is forgotten")
}
