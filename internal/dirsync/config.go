package dirsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

const (
	DefaultConcurrency      = 6
	DefaultRetryLimit       = 3
	DefaultBackoffBase      = 200 * time.Millisecond
	DefaultModTimeTolerance = 2 * time.Second
	DefaultHashCacheSize    = 8192

	// archive vault sibling suffix, `<dest>.dirsync-archive`
	vaultSuffix = ".dirsync-archive"
)

// SyncMode selects what happens to destination-only content
type SyncMode uint8

const (
	ModeMirror SyncMode = iota
	ModeCopy
	ModeArchive
)

var syncModeNames = []string{
	"mirror",
	"copy",
	"archive",
}

func (m SyncMode) String() string {
	if int(m) < len(syncModeNames) {
		return syncModeNames[m]
	}
	return fmt.Sprintf("mode(%d)", m)
}

func ParseSyncMode(s string) (SyncMode, error) {
	for i, name := range syncModeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return SyncMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown policy %q (want mirror, copy or archive)", ErrInvalidConfig, s)
}

// CompareBy selects how files present on both sides are compared
type CompareBy uint8

const (
	CompareSizeAndTime CompareBy = iota
	CompareHash
)

var compareByNames = []string{
	"size-time",
	"hash",
}

func (c CompareBy) String() string {
	if int(c) < len(compareByNames) {
		return compareByNames[c]
	}
	return fmt.Sprintf("compare(%d)", c)
}

func ParseCompareBy(s string) (CompareBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "size-time", "sizeandtime", "size":
		return CompareSizeAndTime, nil
	case "hash", "content":
		return CompareHash, nil
	}
	return 0, fmt.Errorf("%w: unknown compare mode %q (want size-time or hash)", ErrInvalidConfig, s)
}

// SyncPolicy is the selectable reconciliation behaviour of a run.
type SyncPolicy struct {
	Mode               SyncMode
	PreserveTimestamps bool
	CompareBy          CompareBy
}

func (p SyncPolicy) String() string {
	return fmt.Sprintf("%s/%s", p.Mode, p.CompareBy)
}

// SyncSessionConfig carries everything a run needs besides the two roots and
// the policy. Zero numeric fields fall back to their defaults.
type SyncSessionConfig struct {
	Concurrency        int
	RetryLimit         int
	BackoffBase        time.Duration
	CompareBy          CompareBy
	ArchiveRoot        string
	PreserveTimestamps bool
	ModTimeTolerance   time.Duration

	// Exclude holds doublestar globs matched against slash separated relative paths
	Exclude []string

	// LockDir, when set, holds per-destination lock files
	LockDir string

	// Fs defaults to the OS filesystem
	Fs afero.Fs

	Observer      Observer
	OnStateChange func(SessionState)
}

func DefaultConfig() SyncSessionConfig {
	return SyncSessionConfig{
		Concurrency:      DefaultConcurrency,
		RetryLimit:       DefaultRetryLimit,
		BackoffBase:      DefaultBackoffBase,
		CompareBy:        CompareSizeAndTime,
		ModTimeTolerance: DefaultModTimeTolerance,
	}
}

func (c SyncSessionConfig) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("%w: retry limit must be positive, got %d", ErrInvalidConfig, c.RetryLimit)
	}
	if c.BackoffBase < 0 {
		return fmt.Errorf("%w: backoff base must not be negative", ErrInvalidConfig)
	}
	if c.ModTimeTolerance < 0 {
		return fmt.Errorf("%w: mtime tolerance must not be negative", ErrInvalidConfig)
	}
	if c.CompareBy > CompareHash {
		return fmt.Errorf("%w: unknown compare mode %d", ErrInvalidConfig, c.CompareBy)
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: bad exclude pattern %q", ErrInvalidConfig, pattern)
		}
	}
	return nil
}

// withDefaults fills in every zero-valued knob.
func (c SyncSessionConfig) withDefaults() SyncSessionConfig {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.ModTimeTolerance == 0 {
		c.ModTimeTolerance = DefaultModTimeTolerance
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	return c
}

// effectivePolicy merges config-level compare and timestamp settings into the
// policy. Either side asking for hashing or timestamp preservation wins.
func effectivePolicy(p SyncPolicy, c SyncSessionConfig) SyncPolicy {
	if c.CompareBy == CompareHash {
		p.CompareBy = CompareHash
	}
	if c.PreserveTimestamps {
		p.PreserveTimestamps = true
	}
	return p
}

// DefaultArchiveRoot is the vault location used when none is configured.
func DefaultArchiveRoot(destRoot string) string {
	return strings.TrimRight(destRoot, `/\`) + vaultSuffix
}
