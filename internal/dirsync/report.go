package dirsync

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// OutcomeKind is the terminal result of one operation
type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetried
	OutcomeFailed
)

// Outcome is Success, Retried(n) or Failed(reason).
type Outcome struct {
	Kind    OutcomeKind
	Retries int
	Reason  string
}

func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

func Retried(n int) Outcome { return Outcome{Kind: OutcomeRetried, Retries: n} }

func Failed(reason string) Outcome { return Outcome{Kind: OutcomeFailed, Reason: reason} }

// Ok is true for Success and Retried.
func (o Outcome) Ok() bool { return o.Kind != OutcomeFailed }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeRetried:
		return fmt.Sprintf("RETRIED(%d)", o.Retries)
	default:
		return "FAILED"
	}
}

// OperationResult is appended once per operation and never mutated.
type OperationResult struct {
	Index       int
	Operation   Operation
	Outcome     Outcome
	Attempts    int
	Duration    time.Duration
	CompletedAt time.Time
	VaultPath   string
}

// RunStatus is the terminal status of a run
type RunStatus uint8

const (
	StatusRunning RunStatus = iota
	StatusCompleted
	StatusCancelled
	StatusFailed
)

var runStatusNames = []string{
	"running",
	"completed",
	"cancelled",
	"failed",
}

func (s RunStatus) String() string {
	if int(s) < len(runStatusNames) {
		return runStatusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

func ParseRunStatus(s string) (RunStatus, error) {
	for i, name := range runStatusNames {
		if s == name {
			return RunStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown run status %q", s)
}

// Summary counts cover files and symlinks, except Failed which counts every
// failed operation. Archive moves are counted as deleted and again as archived.
type Summary struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (s Summary) String() string {
	return fmt.Sprintf("SUMMARY created=%d updated=%d deleted=%d skipped=%d failed=%d",
		s.Created, s.Updated, s.Deleted, s.Skipped, s.Failed)
}

func (s *Summary) add(res OperationResult) {
	if !res.Outcome.Ok() {
		s.Failed++
		return
	}
	if res.Operation.IsDir() {
		return
	}
	switch res.Operation.Kind {
	case OpCreate:
		s.Created++
	case OpUpdate:
		s.Updated++
	case OpDelete:
		s.Deleted++
	case OpArchiveMove:
		s.Deleted++
		s.Archived++
	case OpSkip:
		s.Skipped++
	}
}

// RunReport accumulates operation results for one session. Appends are
// serialized; readers get copies.
type RunReport struct {
	RunID        string
	Policy       SyncPolicy
	SourceRoot   string
	DestRoot     string
	VaultDir     string
	StartedAt    time.Time
	FinishedAt   time.Time
	PlannedOps   int
	Undispatched int

	mu      sync.Mutex
	status  RunStatus
	reason  string
	results []OperationResult
	summary Summary
}

func NewRunReport(runID string, policy SyncPolicy) *RunReport {
	return &RunReport{
		RunID:     runID,
		Policy:    policy,
		StartedAt: time.Now(),
	}
}

func (r *RunReport) Append(res OperationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	r.summary.add(res)
}

// finish moves the report to its terminal status. Later calls are ignored.
func (r *RunReport) finish(status RunStatus, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRunning {
		return
	}
	r.status = status
	r.reason = reason
	r.FinishedAt = time.Now()
}

func (r *RunReport) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Reason is the abort reason of a failed run, or the cancellation cause.
func (r *RunReport) Reason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func (r *RunReport) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *RunReport) Failures() int {
	return r.Summary().Failed
}

// Results returns a copy in completion order.
func (r *RunReport) Results() []OperationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OperationResult(nil), r.results...)
}

// ByPlanOrder returns a copy sorted by plan index.
func (r *RunReport) ByPlanOrder() []OperationResult {
	results := r.Results()
	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

// Result returns the result for the operation at plan index i.
func (r *RunReport) Result(i int) (OperationResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if res.Index == i {
			return res, true
		}
	}
	return OperationResult{}, false
}

// Describe renders the caller-facing status: `completed (failures=N)`,
// `cancelled` or `failed: reason`.
func (r *RunReport) Describe() string {
	status, reason, failed := r.Status(), r.Reason(), r.Failures()
	switch status {
	case StatusCompleted:
		return fmt.Sprintf("completed (failures=%d)", failed)
	case StatusFailed:
		return "failed: " + reason
	default:
		return status.String()
	}
}

// LogLine renders one result in the run log format.
func LogLine(res OperationResult) string {
	reason := res.Outcome.Reason
	if reason == "" {
		reason = res.Operation.Reason
	}
	return formatLogLine(res.CompletedAt, res.Outcome.String(), res.Operation.Kind.String(), res.Operation.RelPath, reason)
}

// `<RFC3339 timestamp> <OUTCOME> <OPKIND> <relativePath> [reason]`
func formatLogLine(ts time.Time, outcome, op, relPath, reason string) string {
	line := ts.Format(time.RFC3339) + " " + outcome + " " + op + " " + relPath
	if reason != "" {
		line += " " + reason
	}
	return line
}

// WriteLog writes one line per result in completion order and a trailing summary line.
func (r *RunReport) WriteLog(w io.Writer) error {
	return r.Document().WriteLog(w)
}
