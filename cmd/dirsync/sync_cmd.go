package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/dirsync/internal/dirsync"
	"github.com/openmined/dirsync/internal/history"
	"github.com/openmined/dirsync/internal/settings"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/spf13/cobra"
)

const runLogLayout = "20060102_150405"

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [source] [destination]",
		Short: "Run one sync of source into destination",
		Long: `Run one sync of source into destination.

Policies:
  mirror   destination becomes an exact replica of source
  copy     source content is added or updated, nothing is removed
  archive  destination-only content is moved into the archive vault`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := resolveRunOptions(a.v, args)
			if err != nil {
				return err
			}

			rec, err := newRunRecorder(a, cmd)
			if err != nil {
				return err
			}
			defer rec.Close()

			report := dirsync.RunSync(cmd.Context(), opts.Source, opts.Dest, opts.Policy, opts.Config)
			rec.Record(cmd.OutOrStdout(), report)

			// roots a run could not even start on are not worth remembering
			if save, _ := cmd.Flags().GetBool("save"); save && report.Status() != dirsync.StatusFailed {
				if err := a.saveSettings(opts); err != nil {
					return err
				}
			}
			return reportError(report)
		},
	}
	addRunFlags(cmd)
	addRecordFlags(cmd)
	cmd.Flags().Bool("save", false, "remember source, destination and policy in the config file")
	return cmd
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-dir", settings.DefaultLogDir, "directory for run logs")
	cmd.Flags().Bool("create-log", true, "write a run log for every run")
	cmd.Flags().String("report-json", "", "write the full run report as JSON to this file")
	cmd.Flags().Bool("no-history", false, "do not record the run in the history database")
}

func (a *app) saveSettings(opts *runOptions) error {
	s, err := settings.Load(a.settingsPath())
	if err != nil {
		return err
	}
	s.SourceDir = opts.Source
	s.DestinationDir = opts.Dest
	s.Policy = opts.Policy.Mode.String()
	s.CreateLog = a.v.GetBool("create_log")
	s.LogDir = a.v.GetString("log_dir")
	if err := s.Save(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	slog.Info("settings saved", "path", s.Path)
	return nil
}

// runRecorder persists finished runs: the per-run log, the JSON report and
// the history row. Persistence problems are logged, they never change the
// outcome of a run.
type runRecorder struct {
	logDir     string
	reportJSON string
	store      *history.Store
}

func newRunRecorder(a *app, cmd *cobra.Command) (*runRecorder, error) {
	rec := &runRecorder{}

	if a.v.GetBool("create_log") {
		logDir, err := utils.ResolvePath(a.v.GetString("log_dir"))
		if err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		rec.logDir = logDir
	}

	if path, _ := cmd.Flags().GetString("report-json"); path != "" {
		path, err := utils.ResolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("report json: %w", err)
		}
		rec.reportJSON = path
	}

	if !a.v.GetBool("no_history") {
		path, err := utils.ResolvePath(a.v.GetString("history"))
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		store := history.NewStore(path)
		if err := store.Open(); err != nil {
			return nil, err
		}
		rec.store = store
	}
	return rec, nil
}

func (r *runRecorder) Record(w io.Writer, report *dirsync.RunReport) {
	if r.logDir != "" {
		if path, err := r.writeRunLog(report); err != nil {
			slog.Warn("run log", "error", err)
		} else {
			slog.Debug("run log written", "path", path)
		}
	}

	if r.reportJSON != "" {
		if err := writeReportJSON(r.reportJSON, report); err != nil {
			slog.Warn("report json", "path", r.reportJSON, "error", err)
		}
	}

	if r.store != nil {
		if err := r.store.Record(report); err != nil {
			slog.Warn("history record", "runID", report.RunID, "error", err)
		}
	}

	printReport(w, report)
}

// writeRunLog appends to dirsync_log_<YYYYMMDD_HHMMSS>.txt, so runs that start
// within the same second share one file.
func (r *runRecorder) writeRunLog(report *dirsync.RunReport) (string, error) {
	started := report.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	path := filepath.Join(r.logDir, "dirsync_log_"+started.Format(runLogLayout)+".txt")
	if err := utils.EnsureDir(r.logDir); err != nil {
		return "", err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	if err := report.WriteLog(file); err != nil {
		file.Close()
		return "", err
	}
	return path, file.Close()
}

func writeReportJSON(path string, report *dirsync.RunReport) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func (r *runRecorder) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			slog.Warn("history close", "error", err)
		}
		r.store = nil
	}
}
