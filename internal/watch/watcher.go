// Package watch turns recursive filesystem notifications on a tree into
// debounced change batches.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rjeczalik/notify"
)

const (
	DefaultQuietPeriod = 500 * time.Millisecond
	DefaultMaxWait     = 10 * time.Second
	eventBufferSize    = 256
)

// FilterCallback returns true for slash separated relative paths whose events
// should be dropped.
type FilterCallback func(relPath string) bool

// Change is a batch of relative paths that changed since the last batch.
type Change struct {
	Paths []string
	At    time.Time
}

// Watcher collects events under root and emits a Change once the tree has
// been quiet for the quiet period, or maxWait after the first pending event.
// While the consumer is busy, further events fold into the next batch.
type Watcher struct {
	root    string
	raw     chan notify.EventInfo
	changes chan Change
	done    chan struct{}
	wg      sync.WaitGroup

	quiet   time.Duration
	maxWait time.Duration

	filter   FilterCallback
	filterMu sync.RWMutex
}

func NewWatcher(root string) *Watcher {
	return &Watcher{
		root:    root,
		done:    make(chan struct{}),
		quiet:   DefaultQuietPeriod,
		maxWait: DefaultMaxWait,
	}
}

// SetQuietPeriod must be called before Start.
func (w *Watcher) SetQuietPeriod(d time.Duration) {
	w.quiet = d
}

// SetMaxWait must be called before Start.
func (w *Watcher) SetMaxWait(d time.Duration) {
	w.maxWait = d
}

func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()
	w.filter = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	// notify reports resolved paths, macOS temp dirs are symlinks
	if resolved, err := filepath.EvalSymlinks(w.root); err == nil {
		w.root = resolved
	}
	slog.Info("watcher start", "dir", w.root)

	w.raw = make(chan notify.EventInfo, eventBufferSize)
	w.changes = make(chan Change, 1)

	if err := notify.Watch(filepath.Join(w.root, "..."), w.raw, notify.All); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	if w.raw != nil {
		notify.Stop(w.raw)
	}
	w.wg.Wait()
	slog.Info("watcher stopped", "dir", w.root)
}

// Changes is closed once the watcher stops.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		close(w.changes)
		w.wg.Done()
	}()

	pending := mapset.NewThreadUnsafeSet[string]()
	var first time.Time
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	arm := func(now time.Time) {
		wait := w.quiet
		if left := w.maxWait - now.Sub(first); left < wait {
			wait = max(left, 0)
		}
		timer.Reset(wait)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event := <-w.raw:
			rel, ok := w.relPath(event.Path())
			if !ok || w.filtered(rel) {
				continue
			}
			now := time.Now()
			if pending.Cardinality() == 0 {
				first = now
			}
			pending.Add(rel)
			arm(now)
		case <-timer.C:
			if pending.Cardinality() == 0 {
				continue
			}
			paths := pending.ToSlice()
			sort.Strings(paths)
			select {
			case w.changes <- Change{Paths: paths, At: time.Now()}:
				slog.Debug("watcher batch", "paths", len(paths))
				pending.Clear()
			default:
				// consumer still busy with the previous batch
				timer.Reset(w.quiet)
			}
		}
	}
}

func (w *Watcher) relPath(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (w *Watcher) filtered(rel string) bool {
	w.filterMu.RLock()
	defer w.filterMu.RUnlock()
	return w.filter != nil && w.filter(rel)
}

// Run calls fn for every batch until ctx is done or the watcher stops. Calls
// never overlap.
func Run(ctx context.Context, w *Watcher, fn func(context.Context, Change)) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-w.Changes():
			if !ok {
				return
			}
			fn(ctx, change)
		}
	}
}
