package dirsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionState tracks a run through its phases
type SessionState uint8

const (
	StateIdle SessionState = iota
	StateScanning
	StatePlanning
	StateExecuting
	StateCompleted
	StateFailed
	StateCancelled
)

var sessionStateNames = []string{
	"idle",
	"scanning",
	"planning",
	"executing",
	"completed",
	"failed",
	"cancelled",
}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

func (s SessionState) Terminal() bool {
	return s >= StateCompleted
}

// Engine runs sessions and keeps the hash cache warm between them.
type Engine struct {
	hashes *HashCache
}

func NewEngine() *Engine {
	return &Engine{hashes: NewHashCache(DefaultHashCacheSize)}
}

// RunSync runs one session with a throwaway engine.
func RunSync(ctx context.Context, sourcePath, destPath string, policy SyncPolicy, cfg SyncSessionConfig) *RunReport {
	return NewEngine().RunSync(ctx, sourcePath, destPath, policy, cfg)
}

func (e *Engine) RunSync(ctx context.Context, sourcePath, destPath string, policy SyncPolicy, cfg SyncSessionConfig) *RunReport {
	return e.NewSession(sourcePath, destPath, policy, cfg).Run(ctx)
}

// Preview scans and plans without executing anything.
func (e *Engine) Preview(ctx context.Context, sourcePath, destPath string, policy SyncPolicy, cfg SyncSessionConfig) (*Plan, error) {
	s := e.NewSession(sourcePath, destPath, policy, cfg)
	if err := s.prepare(); err != nil {
		return nil, err
	}
	src, dst, err := s.scan(ctx, false)
	if err != nil {
		return nil, err
	}
	return NewPlanner(s.cfg.ModTimeTolerance).Plan(src, dst, s.policy)
}

// SyncSession orchestrates scan, plan and execute for one pair of roots.
type SyncSession struct {
	engine *Engine
	source string
	dest   string
	policy SyncPolicy
	cfg    SyncSessionConfig

	vaultRoot string
	ignore    *IgnoreList
	runID     string

	mu     sync.RWMutex
	state  SessionState
	report *RunReport
}

func (e *Engine) NewSession(sourcePath, destPath string, policy SyncPolicy, cfg SyncSessionConfig) *SyncSession {
	cfg = cfg.withDefaults()
	policy = effectivePolicy(policy, cfg)
	runID := uuid.NewString()
	return &SyncSession{
		engine: e,
		source: sourcePath,
		dest:   destPath,
		policy: policy,
		cfg:    cfg,
		runID:  runID,
		report: NewRunReport(runID, policy),
	}
}

func (s *SyncSession) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Report is the session's report; terminal once Run returns.
func (s *SyncSession) Report() *RunReport {
	return s.report
}

func (s *SyncSession) setState(state SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	slog.Debug("sync session", "run", s.runID, "from", prev, "to", state)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

// Run drives the session to a terminal state. Only run-wide problems fail it;
// per-operation failures end up in the report.
func (s *SyncSession) Run(ctx context.Context) *RunReport {
	report := s.report
	report.StartedAt = time.Now()

	if err := s.prepare(); err != nil {
		return s.fail(err)
	}
	report.SourceRoot = s.source
	report.DestRoot = s.dest

	unlock, err := s.lock()
	if err != nil {
		return s.fail(err)
	}
	defer unlock()

	slog.Info("sync start", "run", s.runID, "source", s.source, "dest", s.dest, "mode", s.policy.Mode, "compare", s.policy.CompareBy)

	s.setState(StateScanning)
	scanStart := time.Now()
	src, dst, err := s.scan(ctx, true)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancel(ctx)
		}
		return s.fail(err)
	}
	scanTime := time.Since(scanStart)

	s.setState(StatePlanning)
	plan, err := NewPlanner(s.cfg.ModTimeTolerance).Plan(src, dst, s.policy)
	if err != nil {
		return s.fail(err)
	}
	report.PlannedOps = plan.Len()
	if ctx.Err() != nil {
		return s.cancel(ctx)
	}

	s.setState(StateExecuting)
	execStart := time.Now()
	var vault *ArchiveVault
	if s.policy.Mode == ModeArchive {
		vault = NewArchiveVault(s.cfg.Fs, s.dest, s.vaultRoot, report.StartedAt)
		if err := vault.Reserve(); err != nil {
			return s.fail(err)
		}
		defer func() {
			if vault.release() {
				report.VaultDir = ""
			}
		}()
		report.VaultDir = vault.Dir()
	}
	executor := NewExecutor(ExecutorConfig{
		Fs:          s.cfg.Fs,
		SourceRoot:  s.source,
		DestRoot:    s.dest,
		Vault:       vault,
		Concurrency: s.cfg.Concurrency,
		RetryLimit:  s.cfg.RetryLimit,
		BackoffBase: s.cfg.BackoffBase,
		Observer:    s.cfg.Observer,
		Hashes:      s.engine.hashes,
	})
	cancelled := executor.run(ctx, plan, report)
	execTime := time.Since(execStart)

	if cancelled {
		return s.cancel(ctx)
	}

	report.finish(StatusCompleted, "")
	s.setState(StateCompleted)

	summary := report.Summary()
	slog.Info("sync done",
		"run", s.runID,
		"ops", plan.Len(),
		"created", summary.Created,
		"updated", summary.Updated,
		"deleted", summary.Deleted,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"scan", scanTime,
		"execute", execTime,
		"took", time.Since(report.StartedAt),
	)
	return report
}

// prepare resolves the roots and checks the config before anything touches disk.
func (s *SyncSession) prepare() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.source == "" || s.dest == "" {
		return fmt.Errorf("%w: source and destination are required", ErrInvalidConfig)
	}

	var err error
	if s.source, err = filepath.Abs(s.source); err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}
	if s.dest, err = filepath.Abs(s.dest); err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}
	if _, inside := relWithin(s.source, s.dest); inside {
		return fmt.Errorf("%w: destination %s is inside source %s", ErrInvalidConfig, s.dest, s.source)
	}
	if _, inside := relWithin(s.dest, s.source); inside {
		return fmt.Errorf("%w: source %s is inside destination %s", ErrInvalidConfig, s.source, s.dest)
	}

	s.vaultRoot = s.cfg.ArchiveRoot
	if s.vaultRoot == "" {
		s.vaultRoot = DefaultArchiveRoot(s.dest)
	} else if s.vaultRoot, err = filepath.Abs(s.vaultRoot); err != nil {
		return fmt.Errorf("resolve archive root: %w", err)
	}
	if _, inside := relWithin(s.source, s.vaultRoot); inside && s.policy.Mode == ModeArchive {
		return fmt.Errorf("%w: archive root %s is inside source", ErrInvalidConfig, s.vaultRoot)
	}
	if rel, inside := relWithin(s.dest, s.vaultRoot); inside && rel == "" {
		return fmt.Errorf("%w: archive root cannot be the destination itself", ErrInvalidConfig)
	}

	ignore, err := LoadIgnoreList(s.cfg.Fs, s.source, s.cfg.Exclude)
	if err != nil {
		slog.Warn("ignore file unreadable, using defaults", "root", s.source, "error", err)
		ignore = NewIgnoreList(nil, s.cfg.Exclude)
	}
	s.ignore = ignore
	return nil
}

// scan reads both trees concurrently. A missing destination is an empty
// manifest, and is created on disk when create is set.
func (s *SyncSession) scan(ctx context.Context, create bool) (*Manifest, *Manifest, error) {
	destIgnore := s.ignore
	if rel, inside := relWithin(s.dest, s.vaultRoot); inside && rel != "" {
		destIgnore = s.ignore.WithPruned(rel)
	}

	var src, dst *Manifest
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := NewScanner(s.cfg.Fs, s.policy.CompareBy, s.ignore, s.engine.hashes).Scan(gctx, s.source)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		src = m
		return nil
	})
	g.Go(func() error {
		m, err := NewScanner(s.cfg.Fs, s.policy.CompareBy, destIgnore, s.engine.hashes).Scan(gctx, s.dest)
		if IsScanError(err, ScanNotFound) {
			dst = NewManifest(s.dest)
			return nil
		}
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		dst = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if create && dst.Len() == 0 {
		if err := s.cfg.Fs.MkdirAll(s.dest, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create destination: %w", err)
		}
	}
	return src, dst, nil
}

// lock takes the per-destination lock when a lock dir is configured.
func (s *SyncSession) lock() (func(), error) {
	if s.cfg.LockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(s.cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	sum := sha256.Sum256([]byte(s.dest))
	lockPath := filepath.Join(s.cfg.LockDir, hex.EncodeToString(sum[:8])+".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock destination: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDestLocked, s.dest)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("unlock destination", "path", lockPath, "error", err)
		}
		os.Remove(lockPath)
	}, nil
}

func (s *SyncSession) fail(err error) *RunReport {
	slog.Error("sync failed", "run", s.runID, "error", err)
	s.report.finish(StatusFailed, err.Error())
	s.setState(StateFailed)
	return s.report
}

func (s *SyncSession) cancel(ctx context.Context) *RunReport {
	reason := "cancelled"
	if cause := context.Cause(ctx); cause != nil {
		reason = cause.Error()
	}
	s.report.finish(StatusCancelled, reason)
	s.setState(StateCancelled)
	return s.report
}
