package dirsync

import (
	"fmt"
	"strings"
)

// OpKind is the action a planned operation performs on the destination
type OpKind uint8

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
	OpArchiveMove
	OpSkip
)

var opKindNames = []string{
	"CREATE",
	"UPDATE",
	"DELETE",
	"ARCHIVE",
	"SKIP",
}

func (k OpKind) String() string {
	if int(k) < len(opKindNames) {
		return opKindNames[k]
	}
	return fmt.Sprintf("OP(%d)", k)
}

// ParseOpKind is the inverse of OpKind.String.
func ParseOpKind(s string) (OpKind, error) {
	for i, name := range opKindNames {
		if strings.EqualFold(s, name) {
			return OpKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// isRemoval is true for operations that take a destination entry away.
func (k OpKind) isRemoval() bool {
	return k == OpDelete || k == OpArchiveMove
}

// isWrite is true for operations that materialize a source entry.
func (k OpKind) isWrite() bool {
	return k == OpCreate || k == OpUpdate
}

// Skip reasons
const (
	ReasonNotInSource      = "not in source"
	ReasonKindConflict     = "kind conflict"
	ReasonBlockedConflict  = "blocked by kind conflict"
	ReasonSourceIncomplete = "source incomplete"
)

// Operation is one planned action against the destination tree.
type Operation struct {
	Kind    OpKind
	RelPath string
	Source  *Entry
	Dest    *Entry
	Reason  string
}

// Target is the entry the operation acts on: the source side for writes and
// skips that have one, the destination side otherwise.
func (op Operation) Target() *Entry {
	if op.Kind.isRemoval() || op.Source == nil {
		return op.Dest
	}
	return op.Source
}

func (op Operation) IsDir() bool {
	t := op.Target()
	return t != nil && t.IsDir()
}

func (op Operation) String() string {
	if op.Reason != "" {
		return fmt.Sprintf("%s %s (%s)", op.Kind, op.RelPath, op.Reason)
	}
	return fmt.Sprintf("%s %s", op.Kind, op.RelPath)
}

// Plan is the ordered list of operations produced by the planner.
type Plan struct {
	Policy     SyncPolicy
	Operations []Operation
}

func (p *Plan) Len() int {
	return len(p.Operations)
}

// Count returns how many operations of the given kind the plan holds.
func (p *Plan) Count(kind OpKind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// IsNoop is true when every operation is a Skip.
func (p *Plan) IsNoop() bool {
	return p.Count(OpSkip) == len(p.Operations)
}

// Index returns the plan position of the first operation of kind at relPath, or -1.
func (p *Plan) Index(kind OpKind, relPath string) int {
	for i, op := range p.Operations {
		if op.Kind == kind && op.RelPath == relPath {
			return i
		}
	}
	return -1
}
