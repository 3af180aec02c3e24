package dirsync

import (
	"path"
	"path/filepath"
	"strings"
)

// NormPath converts a path relative to a tree root into the manifest key form:
// cleaned, forward slashes, no leading slash. Only the platform separator is
// rewritten; on unix a backslash is an ordinary file name character.
func NormPath(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.TrimLeft(p, "/")
}

// isNormPath reports whether p is a valid manifest key. Keys use "/" only.
func isNormPath(p string) bool {
	if p == "" || p == "." || p == ".." {
		return false
	}
	return path.Clean(p) == p && !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "../")
}

// parentOf returns the parent key of p, or "" for entries directly under the root.
func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// depthOf counts the path separators in a manifest key.
func depthOf(p string) int {
	return strings.Count(p, "/")
}

// isWithin reports whether p equals ancestor or lies beneath it.
func isWithin(p, ancestor string) bool {
	if ancestor == "" {
		return true
	}
	return p == ancestor || strings.HasPrefix(p, ancestor+"/")
}

// hasAncestorIn reports whether p or any of its ancestors is a member of set.
func hasAncestorIn(p string, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for cur := p; cur != ""; cur = parentOf(cur) {
		if _, ok := set[cur]; ok {
			return true
		}
	}
	return false
}

// joinRoot maps a manifest key back onto a filesystem path under root.
func joinRoot(root, rel string) string {
	if rel == "" {
		return root
	}
	return filepath.Join(root, filepath.FromSlash(rel))
}

// relWithin returns the manifest key of target under root, and false when
// target is not inside root.
func relWithin(root, target string) (string, bool) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	rel = NormPath(rel)
	if rel == "." {
		return "", true
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
