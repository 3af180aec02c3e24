package dirsync

import (
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// fileStamp identifies one version of a file's content. ctime and inode come
// from the platform stat data where available, so any write to the file or
// replacement of it changes the stamp even when size and mtime are kept.
type fileStamp struct {
	size  int64
	mtime int64
	ctime int64
	ino   uint64
}

func stampOf(fi os.FileInfo) fileStamp {
	ctime, ino := statChange(fi)
	return fileStamp{
		size:  fi.Size(),
		mtime: fi.ModTime().UnixNano(),
		ctime: ctime,
		ino:   ino,
	}
}

type cachedHash struct {
	stamp fileStamp
	hash  string
}

// HashCache remembers content hashes per absolute path, valid while the file
// keeps the stamp it had when hashed. The executor records what it writes and
// forgets what it removes. Safe for concurrent use; a nil cache is a no-op.
type HashCache struct {
	cache *lru.Cache[string, cachedHash]
}

func NewHashCache(size int) *HashCache {
	if size <= 0 {
		size = DefaultHashCacheSize
	}
	cache, err := lru.New[string, cachedHash](size)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &HashCache{cache: cache}
}

func (c *HashCache) Get(path string, fi os.FileInfo) (string, bool) {
	if c == nil {
		return "", false
	}
	entry, ok := c.cache.Get(path)
	if !ok {
		return "", false
	}
	if entry.stamp != stampOf(fi) {
		c.cache.Remove(path)
		return "", false
	}
	return entry.hash, true
}

func (c *HashCache) Add(path string, fi os.FileInfo, hash string) {
	if c == nil {
		return
	}
	c.cache.Add(path, cachedHash{stamp: stampOf(fi), hash: hash})
}

func (c *HashCache) Remove(path string) {
	if c == nil {
		return
	}
	c.cache.Remove(path)
}

func (c *HashCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
