//go:build linux || openbsd || dragonfly || solaris

package dirsync

import (
	"os"
	"syscall"
)

// statChange returns the inode change time and inode number, or zeros when
// fi has no platform stat data (in-memory filesystems).
func statChange(fi os.FileInfo) (int64, uint64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return 0, 0
	}
	return st.Ctim.Nano(), uint64(st.Ino)
}
