package dirsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ExecutorConfig wires an Executor to its trees.
type ExecutorConfig struct {
	Fs          afero.Fs
	SourceRoot  string
	DestRoot    string
	Vault       *ArchiveVault
	Concurrency int
	RetryLimit  int
	BackoffBase time.Duration
	Observer    Observer

	// Hashes, when set, learns the hash of every file written and forgets
	// every path removed, so a reused cache never describes replaced content
	Hashes *HashCache
}

// Executor applies a Plan with a fixed-size worker pool. Each operation waits
// on its dependencies; a failed dependency fails its dependents without
// touching the filesystem.
type Executor struct {
	fs          afero.Fs
	sourceRoot  string
	destRoot    string
	vault       *ArchiveVault
	concurrency int
	retryLimit  int
	backoffBase time.Duration
	observer    Observer
	hashes      *HashCache
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &Executor{
		fs:          cfg.Fs,
		sourceRoot:  cfg.SourceRoot,
		destRoot:    cfg.DestRoot,
		vault:       cfg.Vault,
		concurrency: cfg.Concurrency,
		retryLimit:  cfg.RetryLimit,
		backoffBase: cfg.BackoffBase,
		observer:    cfg.Observer,
		hashes:      cfg.Hashes,
	}
}

type task struct {
	index      int
	op         Operation
	waiting    int
	dependents []int
	done       bool
}

type taskResult struct {
	index  int
	result OperationResult
}

// Execute runs plan to completion or cancellation and returns a fresh report.
func (e *Executor) Execute(ctx context.Context, plan *Plan) *RunReport {
	report := NewRunReport(uuid.NewString(), plan.Policy)
	report.SourceRoot = e.sourceRoot
	report.DestRoot = e.destRoot
	report.PlannedOps = plan.Len()
	if e.run(ctx, plan, report) {
		report.finish(StatusCancelled, context.Cause(ctx).Error())
	} else {
		report.finish(StatusCompleted, "")
	}
	return report
}

// run appends every result to report and reports whether it stopped early
// because ctx was cancelled.
func (e *Executor) run(ctx context.Context, plan *Plan, report *RunReport) bool {
	tasks := buildTasks(plan)

	ready := make([]int, 0, len(tasks))
	for i := range tasks {
		if tasks[i].waiting == 0 {
			ready = append(ready, i)
		}
	}

	work := make(chan task)
	results := make(chan taskResult)
	var wg sync.WaitGroup
	for w := 0; w < e.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				results <- taskResult{index: t.index, result: e.runTask(ctx, t)}
			}
		}()
	}

	record := func(res OperationResult) {
		report.Append(res)
		if e.observer != nil {
			e.observer.OnResult(res)
		}
	}

	pending := len(tasks)
	inflight := 0
	cancelled := false
	ctxDone := ctx.Done()

	// resolve marks a task complete and releases or fails its dependents
	var resolve func(i int, res OperationResult)
	resolve = func(i int, res OperationResult) {
		t := &tasks[i]
		t.done = true
		pending--
		record(res)

		for _, d := range t.dependents {
			dep := &tasks[d]
			if dep.done {
				continue
			}
			if !res.Outcome.Ok() {
				resolve(d, OperationResult{
					Index:       d,
					Operation:   dep.op,
					Outcome:     Failed("dependency failed: " + t.op.RelPath),
					CompletedAt: time.Now(),
				})
				continue
			}
			dep.waiting--
			if dep.waiting == 0 {
				ready = append(ready, d)
			}
		}
	}

	for pending > 0 {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}

		// skips never touch the filesystem
		for !cancelled && len(ready) > 0 && tasks[ready[0]].op.Kind == OpSkip {
			i := ready[0]
			ready = ready[1:]
			resolve(i, OperationResult{Index: i, Operation: tasks[i].op, Outcome: Success(), CompletedAt: time.Now()})
		}
		if pending == 0 {
			break
		}

		var sendCh chan task
		var next task
		if !cancelled && len(ready) > 0 {
			sendCh = work
			next = tasks[ready[0]]
		}
		if sendCh == nil && inflight == 0 {
			if !cancelled {
				slog.Error("executor stalled", "pending", pending)
			}
			break
		}

		select {
		case sendCh <- next:
			ready = ready[1:]
			inflight++
		case tr := <-results:
			inflight--
			resolve(tr.index, tr.result)
		case <-ctxDone:
			cancelled = true
			ctxDone = nil
		}
	}

	close(work)
	wg.Wait()

	report.Undispatched = pending
	if cancelled {
		slog.Warn("sync cancelled", "completed", len(tasks)-pending, "undispatched", pending)
		return true
	}

	if plan.Policy.PreserveTimestamps {
		e.applyDirTimes(plan)
	}
	return false
}

// buildTasks derives the dependency graph. Writes wait on the create of their
// parent directory and on any removal at the same path; a directory removal
// waits on the removals of its direct children.
func buildTasks(plan *Plan) []task {
	tasks := make([]task, len(plan.Operations))
	creates := make(map[string]int)
	removals := make(map[string]int)
	for i, op := range plan.Operations {
		tasks[i] = task{index: i, op: op}
		switch {
		case op.Kind == OpCreate:
			creates[op.RelPath] = i
		case op.Kind.isRemoval():
			removals[op.RelPath] = i
		}
	}

	addDep := func(i, on int) {
		tasks[i].waiting++
		tasks[on].dependents = append(tasks[on].dependents, i)
	}

	for i, op := range plan.Operations {
		switch {
		case op.Kind.isWrite():
			if j, ok := creates[parentOf(op.RelPath)]; ok {
				addDep(i, j)
			}
			if j, ok := removals[op.RelPath]; ok {
				addDep(i, j)
			}
		case op.Kind.isRemoval():
			if parent := parentOf(op.RelPath); parent != "" {
				if j, ok := removals[parent]; ok {
					addDep(j, i)
				}
			}
		}
	}
	return tasks
}

// runTask applies one operation with retries.
func (e *Executor) runTask(ctx context.Context, t task) OperationResult {
	start := time.Now()
	res := OperationResult{Index: t.index, Operation: t.op}

	var err error
	attempt := 0
	for {
		attempt++
		var vaultPath string
		vaultPath, err = e.apply(t.op)
		if vaultPath != "" {
			res.VaultPath = vaultPath
		}
		if err == nil {
			break
		}

		class := classify(err)
		if class == Permanent || attempt >= e.retryLimit {
			break
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("cancelled before retry: %w", err)
			break
		}

		delay := backoffDelay(e.backoffBase, attempt)
		slog.Warn("sync retry", "op", t.op.Kind, "path", t.op.RelPath, "attempt", attempt, "delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			err = fmt.Errorf("cancelled before retry: %w", err)
			break
		}
	}

	res.Attempts = attempt
	res.Duration = time.Since(start)
	res.CompletedAt = time.Now()

	switch {
	case err != nil:
		res.Outcome = Failed(err.Error())
		slog.Error("sync", "op", t.op.Kind, "path", t.op.RelPath, "attempts", attempt, "class", classify(err), "error", err)
	case attempt > 1:
		res.Outcome = Retried(attempt - 1)
		slog.Info("sync", "op", t.op.Kind, "path", t.op.RelPath, "retries", attempt-1)
	default:
		res.Outcome = Success()
		e.logApplied(t.op)
	}
	return res
}

func (e *Executor) logApplied(op Operation) {
	if op.Kind.isWrite() && op.Source != nil && op.Source.Kind == KindFile {
		slog.Debug("sync", "op", op.Kind, "path", op.RelPath, "size", humanize.Bytes(uint64(op.Source.Size)))
		return
	}
	slog.Debug("sync", "op", op.Kind, "path", op.RelPath)
}

// apply performs one attempt. The returned string is the vault path of
// anything archived on the way.
func (e *Executor) apply(op Operation) (string, error) {
	switch op.Kind {
	case OpCreate, OpUpdate:
		return e.write(op)
	case OpDelete:
		e.hashes.Remove(joinRoot(e.destRoot, op.RelPath))
		return "", e.remove(op)
	case OpArchiveMove:
		if e.vault == nil {
			return "", &OperationError{Op: op.Kind, RelPath: op.RelPath, Class: Permanent, Err: errors.New("no archive vault configured")}
		}
		e.hashes.Remove(joinRoot(e.destRoot, op.RelPath))
		res, err := e.vault.Archive(op.Dest)
		return res.VaultPath, err
	case OpSkip:
		return "", nil
	}
	return "", &OperationError{Op: op.Kind, RelPath: op.RelPath, Class: Permanent, Err: fmt.Errorf("unknown operation %s", op.Kind)}
}

func (e *Executor) remove(op Operation) error {
	err := e.fs.Remove(joinRoot(e.destRoot, op.RelPath))
	switch {
	case err == nil:
		return nil
	case isNotExist(err):
		// already gone
		return nil
	default:
		return err
	}
}

func (e *Executor) write(op Operation) (string, error) {
	src := op.Source
	if src == nil {
		return "", &OperationError{Op: op.Kind, RelPath: op.RelPath, Class: Permanent, Err: errors.New("write without source entry")}
	}

	switch src.Kind {
	case KindDirectory:
		return "", e.fs.MkdirAll(joinRoot(e.destRoot, op.RelPath), src.Mode|0o700)
	case KindSymlink:
		return e.writeSymlink(op)
	default:
		return e.writeFile(op)
	}
}

// archivePrevious moves the current destination copy into the vault before
// an update replaces it.
func (e *Executor) archivePrevious(op Operation) (string, error) {
	if e.vault == nil || op.Kind != OpUpdate || op.Dest == nil {
		return "", nil
	}
	res, err := e.vault.Archive(op.Dest)
	return res.VaultPath, err
}

func (e *Executor) writeFile(op Operation) (string, error) {
	srcPath := joinRoot(e.sourceRoot, op.RelPath)
	dstPath := joinRoot(e.destRoot, op.RelPath)

	in, err := e.fs.Open(srcPath)
	if err != nil {
		return "", err
	}
	tmpName, hash, _, err := writeTemp(e.fs, dstPath, in)
	in.Close()
	if err != nil {
		return "", err
	}

	vaultPath, err := e.finishFile(op, tmpName, hash, dstPath)
	if err != nil {
		_ = e.fs.Remove(tmpName)
	}
	return vaultPath, err
}

func (e *Executor) finishFile(op Operation, tmpName, hash, dstPath string) (string, error) {
	src := op.Source
	if src.ContentHash != "" && hash != src.ContentHash {
		return "", ErrContentChanged
	}
	if err := e.fs.Chmod(tmpName, src.Mode); err != nil {
		return "", fmt.Errorf("chmod: %w", err)
	}
	// file mtimes always follow the source or size+time comparison would never settle
	if err := e.fs.Chtimes(tmpName, src.ModTime, src.ModTime); err != nil {
		return "", fmt.Errorf("chtimes: %w", err)
	}

	e.hashes.Remove(dstPath)
	vaultPath, err := e.archivePrevious(op)
	if err != nil {
		return "", err
	}
	if err := e.fs.Rename(tmpName, dstPath); err != nil {
		return vaultPath, err
	}
	// the bytes just written are verified, so the next scan can trust them
	if fi, err := lstat(e.fs, dstPath); err == nil {
		e.hashes.Add(dstPath, fi, hash)
	}
	return vaultPath, nil
}

func (e *Executor) writeSymlink(op Operation) (string, error) {
	dstPath := joinRoot(e.destRoot, op.RelPath)
	tmpName := filepath.Join(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+tempMarker+uuid.NewString()[:8])

	if err := symlink(e.fs, filepath.FromSlash(op.Source.LinkTarget), tmpName); err != nil {
		return "", err
	}
	e.hashes.Remove(dstPath)

	vaultPath, err := e.archivePrevious(op)
	if err != nil {
		_ = e.fs.Remove(tmpName)
		return "", err
	}
	if err := e.fs.Rename(tmpName, dstPath); err != nil {
		_ = e.fs.Remove(tmpName)
		return vaultPath, err
	}
	return vaultPath, nil
}

// applyDirTimes gives every destination directory that mirrors a source
// directory its source mtime, deepest first so parents are not bumped again.
func (e *Executor) applyDirTimes(plan *Plan) {
	var dirs []*Entry
	for _, op := range plan.Operations {
		if op.Kind.isRemoval() || op.Source == nil || !op.Source.IsDir() {
			continue
		}
		if op.Kind == OpSkip && (op.Dest == nil || !op.Dest.IsDir()) {
			continue
		}
		dirs = append(dirs, op.Source)
	}
	sort.SliceStable(dirs, func(i, j int) bool { return depthOf(dirs[i].RelPath) > depthOf(dirs[j].RelPath) })

	for _, d := range dirs {
		path := joinRoot(e.destRoot, d.RelPath)
		if err := e.fs.Chtimes(path, d.ModTime, d.ModTime); err != nil && !isNotExist(err) {
			slog.Warn("sync dir times", "path", d.RelPath, "error", err)
		}
	}
}
