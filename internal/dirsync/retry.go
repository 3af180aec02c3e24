package dirsync

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"time"
)

const maxBackoff = 30 * time.Second

// classify sorts an operation error into retryable or not. Errors we know
// nothing about are treated as transient; the retry limit bounds the cost.
func classify(err error) ErrorClass {
	var archiveErr *ArchiveError
	if errors.As(err, &archiveErr) {
		return Permanent
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Class
	}

	if errors.Is(err, ErrContentChanged) || matchesErrno(err, transientErrnos) {
		return Transient
	}

	if errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrInvalid) ||
		errors.Is(err, ErrSymlinkUnsupport) ||
		matchesErrno(err, permanentErrnos) {
		return Permanent
	}
	return Transient
}

func matchesErrno(err error, errnos []syscall.Errno) bool {
	for _, errno := range errnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// backoffDelay doubles base per prior attempt, capped at maxBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
