//go:build unix

package dirsync

import (
	"errors"
	"syscall"
)

var transientErrnos = []syscall.Errno{
	syscall.EBUSY,
	syscall.EAGAIN,
	syscall.EINTR,
	syscall.ETXTBSY,
	syscall.EIO,
}

var permanentErrnos = []syscall.Errno{
	syscall.ENOSPC,
	syscall.EROFS,
	syscall.ENAMETOOLONG,
	syscall.EINVAL,
	syscall.ENOTEMPTY,
	syscall.ENOTDIR,
	syscall.EISDIR,
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}
