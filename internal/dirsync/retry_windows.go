//go:build windows

package dirsync

import (
	"errors"
	"syscall"
)

const (
	errorNotSameDevice      syscall.Errno = 17
	errorSharingViolation   syscall.Errno = 32
	errorLockViolation      syscall.Errno = 33
	errorHandleDiskFull     syscall.Errno = 39
	errorDiskFull           syscall.Errno = 112
	errorInvalidName        syscall.Errno = 123
	errorDirNotEmpty        syscall.Errno = 145
	errorFilenameExcedRange syscall.Errno = 206
	errorWriteProtect       syscall.Errno = 19
)

var transientErrnos = []syscall.Errno{
	errorSharingViolation,
	errorLockViolation,
}

var permanentErrnos = []syscall.Errno{
	errorHandleDiskFull,
	errorDiskFull,
	errorInvalidName,
	errorDirNotEmpty,
	errorFilenameExcedRange,
	errorWriteProtect,
}

func isCrossDevice(err error) bool {
	return errors.Is(err, errorNotSameDevice)
}
