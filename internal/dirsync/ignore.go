package dirsync

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const (
	// IgnoreFileName is read from the source root, gitignore syntax
	IgnoreFileName = ".dirsyncignore"

	// tempMarker tags in-flight temp files written next to their targets
	tempMarker = ".dirsync-tmp-"
)

var defaultIgnoreLines = []string{
	"*" + tempMarker + "*",
}

// IgnoreList decides which relative paths are left out of a scan. It is
// applied identically to both trees so ignored destination content is never
// deleted.
type IgnoreList struct {
	rules  *gitignore.GitIgnore
	lines  []string
	globs  []string
	pruned []string
}

// NewIgnoreList compiles the default rules plus extra gitignore lines and globs.
func NewIgnoreList(lines []string, globs []string) *IgnoreList {
	all := make([]string, 0, len(defaultIgnoreLines)+len(lines))
	all = append(all, defaultIgnoreLines...)
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		all = append(all, line)
	}
	return &IgnoreList{
		rules: gitignore.CompileIgnoreLines(all...),
		lines: all,
		globs: globs,
	}
}

// LoadIgnoreList reads IgnoreFileName from root when present.
func LoadIgnoreList(fsys afero.Fs, root string, globs []string) (*IgnoreList, error) {
	ignorePath := filepath.Join(root, IgnoreFileName)
	file, err := fsys.Open(ignorePath)
	if errors.Is(err, fs.ErrNotExist) {
		return NewIgnoreList(nil, globs), nil
	} else if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slog.Debug("ignore file loaded", "path", ignorePath, "rules", len(lines))
	return NewIgnoreList(lines, globs), nil
}

// WithPruned returns a copy that additionally drops the subtree at rel.
func (l *IgnoreList) WithPruned(rel string) *IgnoreList {
	cp := *l
	cp.pruned = append(append([]string(nil), l.pruned...), rel)
	return &cp
}

// ShouldIgnore matches a slash separated relative path.
func (l *IgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	if l == nil {
		return false
	}
	for _, p := range l.pruned {
		if isWithin(rel, p) {
			return true
		}
	}
	if l.rules.MatchesPath(rel) || (isDir && l.rules.MatchesPath(rel+"/")) {
		return true
	}
	for _, glob := range l.globs {
		if ok, _ := doublestar.Match(glob, rel); ok {
			return true
		}
	}
	return false
}

// Rules returns the compiled gitignore lines, defaults first.
func (l *IgnoreList) Rules() []string {
	return append([]string(nil), l.lines...)
}
