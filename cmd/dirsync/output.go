package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/dirsync/internal/dirsync"
)

var (
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	bold      = lipgloss.NewStyle().Bold(true)
)

// maxListedFailures bounds the failure lines printed after a run
const maxListedFailures = 10

func statusStyle(report *dirsync.RunReport) lipgloss.Style {
	switch exitCodeFor(report) {
	case exitOK:
		return green
	case exitPartial:
		return yellow
	case exitCancelled:
		return gray
	default:
		return red
	}
}

func opStyle(kind dirsync.OpKind) lipgloss.Style {
	switch kind {
	case dirsync.OpCreate:
		return green
	case dirsync.OpUpdate:
		return cyan
	case dirsync.OpDelete:
		return red
	case dirsync.OpArchiveMove:
		return yellow
	default:
		return gray
	}
}

// copiedBytes sums the file content written by successful creates and updates.
func copiedBytes(results []dirsync.OperationResult) uint64 {
	var total uint64
	for _, res := range results {
		op := res.Operation
		if !res.Outcome.Ok() || op.Source == nil || op.Source.Kind != dirsync.KindFile {
			continue
		}
		if op.Kind == dirsync.OpCreate || op.Kind == dirsync.OpUpdate {
			total += uint64(op.Source.Size)
		}
	}
	return total
}

func printReport(w io.Writer, report *dirsync.RunReport) {
	style := statusStyle(report)
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	if report.StartedAt.IsZero() || elapsed < 0 {
		elapsed = 0
	}

	fmt.Fprintf(w, "%s %s %s\n",
		style.Render(bold.Render(report.Describe())),
		gray.Render(report.Policy.String()),
		gray.Render("in "+elapsed.String()),
	)

	s := report.Summary()
	fmt.Fprintf(w, "  %s %d  %s %d  %s %d  %s %d  %s %d  %s %d\n",
		green.Render("created"), s.Created,
		cyan.Render("updated"), s.Updated,
		red.Render("deleted"), s.Deleted,
		yellow.Render("archived"), s.Archived,
		gray.Render("skipped"), s.Skipped,
		red.Render("failed"), s.Failed,
	)

	results := report.ByPlanOrder()
	if n := copiedBytes(results); n > 0 {
		fmt.Fprintf(w, "  %s %s\n", lightGray.Render("copied"), humanize.Bytes(n))
	}
	if report.VaultDir != "" && s.Archived > 0 {
		fmt.Fprintf(w, "  %s %s\n", lightGray.Render("vault"), report.VaultDir)
	}
	if report.Undispatched > 0 {
		fmt.Fprintf(w, "  %s %d\n", lightGray.Render("not started"), report.Undispatched)
	}

	listed := 0
	for _, res := range results {
		if res.Outcome.Ok() {
			continue
		}
		if listed == maxListedFailures {
			fmt.Fprintf(w, "  %s\n", gray.Render(fmt.Sprintf("... and %d more", s.Failed-listed)))
			break
		}
		fmt.Fprintf(w, "  %s %s %s %s\n",
			red.Render("FAILED"), res.Operation.Kind, res.Operation.RelPath, gray.Render(res.Outcome.Reason))
		listed++
	}
}

func printPlan(w io.Writer, plan *dirsync.Plan, showSkips bool) {
	var bytes uint64
	for _, op := range plan.Operations {
		if op.Kind == dirsync.OpSkip && !showSkips {
			continue
		}
		line := opStyle(op.Kind).Render(fmt.Sprintf("%-7s", op.Kind)) + " " + op.RelPath
		if op.IsDir() {
			line += "/"
		}
		if op.Reason != "" {
			line += " " + gray.Render(op.Reason)
		}
		fmt.Fprintln(w, line)

		if (op.Kind == dirsync.OpCreate || op.Kind == dirsync.OpUpdate) && op.Source != nil && op.Source.Kind == dirsync.KindFile {
			bytes += uint64(op.Source.Size)
		}
	}

	if plan.IsNoop() {
		fmt.Fprintln(w, green.Render("nothing to do"))
		return
	}

	counts := make([]string, 0, 5)
	for _, kind := range []dirsync.OpKind{dirsync.OpCreate, dirsync.OpUpdate, dirsync.OpDelete, dirsync.OpArchiveMove, dirsync.OpSkip} {
		if n := plan.Count(kind); n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", strings.ToLower(kind.String()), n))
		}
	}
	fmt.Fprintf(w, "%s %s, %s to copy\n", bold.Render("plan"), strings.Join(counts, " "), humanize.Bytes(bytes))
}
