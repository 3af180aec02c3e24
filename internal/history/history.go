// Package history keeps a sqlite record of past sync runs.
package history

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/dirsync/internal/db"
	"github.com/openmined/dirsync/internal/dirsync"
)

// schema versions, applied in order by db.Migrate
var migrations = []string{
	`CREATE TABLE runs (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    mode TEXT NOT NULL,
    source TEXT NOT NULL,
    destination TEXT NOT NULL,
    started_at TEXT NOT NULL, -- UTC, fixed width
    finished_at TEXT NOT NULL,
    planned_ops INTEGER NOT NULL,
    created INTEGER NOT NULL,
    updated INTEGER NOT NULL,
    deleted INTEGER NOT NULL,
    archived INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    report BLOB NOT NULL
);
CREATE INDEX idx_runs_started_at ON runs(started_at);`,

	`CREATE INDEX idx_runs_destination ON runs(destination);`,
}

// concurrent dirsync processes share one history file and each holds the
// write lock only for a single insert or prune
const busyTimeout = 30 * time.Second

// fixed width so that started_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	ErrRunNotFound = errors.New("run not found")
	ErrNotOpen     = errors.New("history store not open")
)

// Run is one row of the history listing.
type Run struct {
	RunID       string
	Status      string
	Reason      string
	Mode        string
	Source      string
	Destination string
	StartedAt   time.Time
	FinishedAt  time.Time
	PlannedOps  int
	Summary     dirsync.Summary
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type dbRun struct {
	RunID       string `db:"run_id"`
	Status      string `db:"status"`
	Reason      string `db:"reason"`
	Mode        string `db:"mode"`
	Source      string `db:"source"`
	Destination string `db:"destination"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	PlannedOps  int    `db:"planned_ops"`
	Created     int    `db:"created"`
	Updated     int    `db:"updated"`
	Deleted     int    `db:"deleted"`
	Archived    int    `db:"archived"`
	Skipped     int    `db:"skipped"`
	Failed      int    `db:"failed"`
	Report      []byte `db:"report"`
}

const runColumns = `run_id, status, reason, mode, source, destination, started_at, finished_at,
	planned_ops, created, updated, deleted, archived, skipped, failed`

// Store is the run history, one row per RunReport.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Open opens the underlying database and creates the schema.
func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("history store already open")
	}

	conn, err := db.NewSqliteDB(
		db.WithPath(s.dbPath),
		db.WithMaxOpenConns(1),
		db.WithBusyTimeout(busyTimeout),
	)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if err := db.Migrate(conn, migrations); err != nil {
		conn.Close()
		return fmt.Errorf("init history schema: %w", err)
	}

	s.db = conn
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrNotOpen
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Record stores a finished report. Recording the same run twice replaces it.
func (s *Store) Record(report *dirsync.RunReport) error {
	if s.db == nil {
		return ErrNotOpen
	}

	doc := report.Document()
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		return fmt.Errorf("encode report %s: %w", report.RunID, err)
	}

	row := dbRun{
		RunID:       doc.RunID,
		Status:      doc.Status,
		Reason:      doc.Reason,
		Mode:        doc.Mode,
		Source:      doc.SourceRoot,
		Destination: doc.DestRoot,
		StartedAt:   doc.StartedAt.UTC().Format(timeLayout),
		FinishedAt:  doc.FinishedAt.UTC().Format(timeLayout),
		PlannedOps:  doc.PlannedOps,
		Created:     doc.Summary.Created,
		Updated:     doc.Summary.Updated,
		Deleted:     doc.Summary.Deleted,
		Archived:    doc.Summary.Archived,
		Skipped:     doc.Summary.Skipped,
		Failed:      doc.Summary.Failed,
		Report:      buf.Bytes(),
	}

	query := `INSERT OR REPLACE INTO runs (` + runColumns + `, report)
	          VALUES (:run_id, :status, :reason, :mode, :source, :destination, :started_at, :finished_at,
	                  :planned_ops, :created, :updated, :deleted, :archived, :skipped, :failed, :report)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("record run %s: %w", doc.RunID, err)
	}
	slog.Debug("history record", "run", doc.RunID, "status", doc.Status)
	return nil
}

// List returns the most recent runs first. limit <= 0 returns everything.
func (s *Store) List(limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []dbRun
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]*Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			slog.Warn("history skip corrupt row", "run", row.RunID, "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Get returns the full stored document of one run. A unique prefix of the
// run id is accepted.
func (s *Store) Get(runID string) (*dirsync.ReportDocument, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	var report []byte
	err := s.db.Get(&report, `SELECT report FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		var matches [][]byte
		if runID == "" {
			return nil, fmt.Errorf("%w: empty run id", ErrRunNotFound)
		}
		const q = `SELECT report FROM runs WHERE run_id LIKE ? ESCAPE '\' LIMIT 2`
		if err := s.db.Select(&matches, q, likePrefix(runID)); err != nil {
			return nil, fmt.Errorf("get run %s: %w", runID, err)
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		case 1:
			report = matches[0]
		default:
			return nil, fmt.Errorf("ambiguous run id prefix %q", runID)
		}
	} else if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return dirsync.DecodeReport(bytes.NewReader(report))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns s into a LIKE pattern matching strings that start with s.
func likePrefix(s string) string {
	return likeEscaper.Replace(s) + "%"
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(keep int) (int, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.Exec(`DELETE FROM runs WHERE run_id NOT IN (SELECT run_id FROM runs ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count returns the number of stored runs.
func (s *Store) Count() (int, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM runs"); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

func (r dbRun) toRun() (*Run, error) {
	started, err := time.Parse(timeLayout, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("started_at: %w", err)
	}
	finished, err := time.Parse(timeLayout, r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("finished_at: %w", err)
	}
	return &Run{
		RunID:       r.RunID,
		Status:      r.Status,
		Reason:      r.Reason,
		Mode:        r.Mode,
		Source:      r.Source,
		Destination: r.Destination,
		StartedAt:   started,
		FinishedAt:  finished,
		PlannedOps:  r.PlannedOps,
		Summary: dirsync.Summary{
			Created:  r.Created,
			Updated:  r.Updated,
			Deleted:  r.Deleted,
			Archived: r.Archived,
			Skipped:  r.Skipped,
			Failed:   r.Failed,
		},
	}, nil
}
