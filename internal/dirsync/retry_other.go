//go:build !unix && !windows

package dirsync

import "syscall"

var transientErrnos []syscall.Errno

var permanentErrnos []syscall.Errno

func isCrossDevice(error) bool {
	return false
}
