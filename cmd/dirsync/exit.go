package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/openmined/dirsync/internal/dirsync"
)

const (
	exitOK        = 0
	exitFailed    = 1
	exitPartial   = 2
	exitCancelled = 3
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

// exitCodeFor maps a finished run to the process exit code.
func exitCodeFor(report *dirsync.RunReport) int {
	switch report.Status() {
	case dirsync.StatusCompleted:
		if report.Failures() > 0 {
			return exitPartial
		}
		return exitOK
	case dirsync.StatusCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}

// reportError is nil for a clean run.
func reportError(report *dirsync.RunReport) error {
	code := exitCodeFor(report)
	if code == exitOK {
		return nil
	}
	return &exitError{code: code, msg: report.Describe()}
}

// exitCodeOf prints err (unless the command already reported it) and returns the code.
func exitCodeOf(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(stderr, red.Render("Error: "+err.Error()))
	return exitFailed
}
