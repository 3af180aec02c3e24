package dirsync

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig    = errors.New("invalid config")
	ErrDestLocked       = errors.New("destination is locked by another run")
	ErrContentChanged   = errors.New("source changed during copy")
	ErrVaultCollision   = errors.New("vault path exists with different content")
	ErrSymlinkUnsupport = errors.New("filesystem does not support symlinks")
)

// ScanErrorKind classifies why a tree root could not be scanned
type ScanErrorKind uint8

const (
	ScanNotFound ScanErrorKind = iota
	ScanNotADirectory
	ScanPermissionDenied
)

var scanErrorKindNames = []string{
	"not found",
	"not a directory",
	"permission denied",
}

func (k ScanErrorKind) String() string {
	if int(k) < len(scanErrorKindNames) {
		return scanErrorKindNames[k]
	}
	return fmt.Sprintf("scan error(%d)", k)
}

// ScanError is fatal for the root it names.
type ScanError struct {
	Root string
	Kind ScanErrorKind
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan %s: %s: %v", e.Root, e.Kind, e.Err)
	}
	return fmt.Sprintf("scan %s: %s", e.Root, e.Kind)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsScanError reports whether err is a ScanError of the given kind.
func IsScanError(err error, kind ScanErrorKind) bool {
	var scanErr *ScanError
	return errors.As(err, &scanErr) && scanErr.Kind == kind
}

// PartialScanWarning is a non-fatal read failure for one path during a scan.
type PartialScanWarning struct {
	RelPath string
	Err     error
}

func (w *PartialScanWarning) Error() string {
	return fmt.Sprintf("partial scan at %s: %v", w.RelPath, w.Err)
}

func (w *PartialScanWarning) Unwrap() error {
	return w.Err
}

// PlanningError means a manifest handed to the planner was malformed.
type PlanningError struct {
	RelPath string
	Reason  string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("plan %q: %s", e.RelPath, e.Reason)
}

// ErrorClass decides whether an operation error is worth retrying
type ErrorClass uint8

const (
	Transient ErrorClass = iota
	Permanent
)

func (c ErrorClass) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// OperationError is the failure of a single planned operation.
type OperationError struct {
	Op      OpKind
	RelPath string
	Class   ErrorClass
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RelPath, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ArchiveError is raised by the vault and is never retried.
type ArchiveError struct {
	RelPath   string
	VaultPath string
	Err       error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive %s to %s: %v", e.RelPath, e.VaultPath, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}
