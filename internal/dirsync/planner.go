package dirsync

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Planner turns a pair of manifests into an ordered Plan.
type Planner struct {
	tolerance time.Duration
}

func NewPlanner(tolerance time.Duration) *Planner {
	if tolerance <= 0 {
		tolerance = DefaultModTimeTolerance
	}
	return &Planner{tolerance: tolerance}
}

// Plan reconciles every path in the union of both manifests. Removals come
// first, children before parents; then creates and updates, parents before
// children; then skips.
func (p *Planner) Plan(src, dst *Manifest, policy SyncPolicy) (*Plan, error) {
	if err := validateManifest(src); err != nil {
		return nil, err
	}
	if err := validateManifest(dst); err != nil {
		return nil, err
	}

	allPaths := mapset.NewThreadUnsafeSetWithSize[string](src.Len() + dst.Len())
	for path := range src.Entries {
		allPaths.Add(path)
	}
	for path := range dst.Entries {
		allPaths.Add(path)
	}
	paths := allPaths.ToSlice()
	sort.Strings(paths)

	// destination content below these source paths is unknown, not absent
	incomplete := make(map[string]struct{}, len(src.Warnings))
	for _, w := range src.Warnings {
		incomplete[w.RelPath] = struct{}{}
	}
	blocked := make(map[string]struct{})

	var removals, writes, skips []Operation
	removeKind := OpDelete
	if policy.Mode == ModeArchive {
		removeKind = OpArchiveMove
	}

	for _, path := range paths {
		s, inSrc := src.Entries[path]
		d, inDst := dst.Entries[path]

		switch {
		case inSrc && !inDst:
			if hasAncestorIn(parentOf(path), blocked) {
				skips = append(skips, Operation{Kind: OpSkip, RelPath: path, Source: s, Reason: ReasonBlockedConflict})
				continue
			}
			writes = append(writes, Operation{Kind: OpCreate, RelPath: path, Source: s})

		case !inSrc && inDst:
			if hasAncestorIn(path, incomplete) {
				skips = append(skips, Operation{Kind: OpSkip, RelPath: path, Dest: d, Reason: ReasonSourceIncomplete})
				continue
			}
			if policy.Mode == ModeCopy {
				skips = append(skips, Operation{Kind: OpSkip, RelPath: path, Dest: d, Reason: ReasonNotInSource})
				continue
			}
			removals = append(removals, Operation{Kind: removeKind, RelPath: path, Dest: d})

		case s.Kind != d.Kind:
			if policy.Mode == ModeCopy {
				blocked[path] = struct{}{}
				skips = append(skips, Operation{Kind: OpSkip, RelPath: path, Source: s, Dest: d, Reason: ReasonKindConflict})
				continue
			}
			removals = append(removals, Operation{Kind: removeKind, RelPath: path, Dest: d, Reason: ReasonKindConflict})
			writes = append(writes, Operation{Kind: OpCreate, RelPath: path, Source: s, Reason: ReasonKindConflict})

		case p.equal(s, d, policy.CompareBy):
			skips = append(skips, Operation{Kind: OpSkip, RelPath: path, Source: s, Dest: d})

		default:
			writes = append(writes, Operation{Kind: OpUpdate, RelPath: path, Source: s, Dest: d})
		}
	}

	// reverse lexical order puts every child ahead of its parent
	for i, j := 0, len(removals)-1; i < j; i, j = i+1, j-1 {
		removals[i], removals[j] = removals[j], removals[i]
	}

	ops := make([]Operation, 0, len(removals)+len(writes)+len(skips))
	ops = append(ops, removals...)
	ops = append(ops, writes...)
	ops = append(ops, skips...)

	return &Plan{Policy: policy, Operations: ops}, nil
}

// equal compares two entries of the same kind.
func (p *Planner) equal(s, d *Entry, compareBy CompareBy) bool {
	switch s.Kind {
	case KindDirectory:
		return true
	case KindSymlink:
		return s.LinkTarget == d.LinkTarget
	}

	if compareBy == CompareHash {
		return s.ContentHash != "" && s.ContentHash == d.ContentHash
	}
	return s.Size == d.Size && withinTolerance(s.ModTime, d.ModTime, p.tolerance)
}

func validateManifest(m *Manifest) error {
	if m == nil {
		return &PlanningError{Reason: "nil manifest"}
	}
	for key, e := range m.Entries {
		if e == nil {
			return &PlanningError{RelPath: key, Reason: "nil entry"}
		}
		if e.RelPath != key {
			return &PlanningError{RelPath: key, Reason: "entry keyed under " + key + " has path " + e.RelPath}
		}
		if !isNormPath(key) {
			return &PlanningError{RelPath: key, Reason: "path is not normalized"}
		}
		if parent := parentOf(key); parent != "" {
			pe, ok := m.Entries[parent]
			if !ok {
				return &PlanningError{RelPath: key, Reason: "parent " + parent + " missing from manifest"}
			}
			if !pe.IsDir() {
				return &PlanningError{RelPath: key, Reason: "parent " + parent + " is a " + pe.Kind.String()}
			}
		}
	}
	return nil
}
