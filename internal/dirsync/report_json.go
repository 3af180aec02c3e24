package dirsync

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// ReportDocument is the serialized form of a RunReport.
type ReportDocument struct {
	RunID        string           `json:"run_id"`
	Status       string           `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	Mode         string           `json:"mode"`
	CompareBy    string           `json:"compare_by"`
	SourceRoot   string           `json:"source"`
	DestRoot     string           `json:"destination"`
	VaultDir     string           `json:"vault,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	PlannedOps   int              `json:"planned_ops"`
	Undispatched int              `json:"undispatched,omitempty"`
	Summary      Summary          `json:"summary"`
	Results      []ResultDocument `json:"results"`
}

// ResultDocument is one serialized OperationResult.
type ResultDocument struct {
	Index       int       `json:"index"`
	Op          string    `json:"op"`
	Path        string    `json:"path"`
	Kind        string    `json:"kind"`
	Outcome     string    `json:"outcome"`
	Retries     int       `json:"retries,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
	VaultPath   string    `json:"vault_path,omitempty"`
}

// Document snapshots the report.
func (r *RunReport) Document() *ReportDocument {
	results := r.Results()
	doc := &ReportDocument{
		RunID:        r.RunID,
		Status:       r.Status().String(),
		Reason:       r.Reason(),
		Mode:         r.Policy.Mode.String(),
		CompareBy:    r.Policy.CompareBy.String(),
		SourceRoot:   r.SourceRoot,
		DestRoot:     r.DestRoot,
		VaultDir:     r.VaultDir,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		PlannedOps:   r.PlannedOps,
		Undispatched: r.Undispatched,
		Summary:      r.Summary(),
		Results:      make([]ResultDocument, 0, len(results)),
	}

	for _, res := range results {
		kind := ""
		if t := res.Operation.Target(); t != nil {
			kind = t.Kind.String()
		}
		reason := res.Outcome.Reason
		if reason == "" {
			reason = res.Operation.Reason
		}
		doc.Results = append(doc.Results, ResultDocument{
			Index:       res.Index,
			Op:          res.Operation.Kind.String(),
			Path:        res.Operation.RelPath,
			Kind:        kind,
			Outcome:     res.Outcome.String(),
			Retries:     res.Outcome.Retries,
			Reason:      reason,
			Attempts:    res.Attempts,
			DurationMs:  res.Duration.Milliseconds(),
			CompletedAt: res.CompletedAt,
			VaultPath:   res.VaultPath,
		})
	}
	return doc
}

// WriteJSON encodes the report document to w.
func (r *RunReport) WriteJSON(w io.Writer) error {
	return jsonEncode(w, r.Document())
}

// MarshalJSON lets a RunReport be handed straight to an encoder.
func (r *RunReport) MarshalJSON() ([]byte, error) {
	return jsonMarshal(r.Document())
}

// DecodeReport reads a document written by WriteJSON.
func DecodeReport(rd io.Reader) (*ReportDocument, error) {
	var doc ReportDocument
	if err := jsonDecode(rd, &doc); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &doc, nil
}

// WriteLog renders the document in the run log format.
func (d *ReportDocument) WriteLog(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, res := range d.Results {
		if _, err := fmt.Fprintln(bw, formatLogLine(res.CompletedAt, res.Outcome, res.Op, res.Path, res.Reason)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(bw, d.Summary); err != nil {
		return err
	}
	return bw.Flush()
}
