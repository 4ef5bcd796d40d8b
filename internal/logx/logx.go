// Package logx is the supervisor's report-stream logger: a thin wrapper
// around logiface/stumpy that resolves the stdout/stderr/quiet tri-state of
// spec §3 (stdout_errors, quiet) into a single structured logger used for
// the human-readable diagnostic lines of spec §7.
package logx

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the supervisor's diagnostic logger. In quiet mode New returns a
// logger at LevelDisabled, so every call site may log unconditionally
// without checking Quiet itself.
type Logger = logiface.Logger[*stumpy.Event]

// New builds the report-stream logger per spec §7: quiet suppresses all
// lines, otherwise stdoutErrors selects stdout over the default stderr.
func New(quiet, stdoutErrors bool) *Logger {
	if quiet {
		return stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
	}

	var w io.Writer = os.Stderr
	if stdoutErrors {
		w = os.Stdout
	}

	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
	)
}

// ReportStream returns the plain io.Writer the logger targets, for callers
// (e.g. the supervisor's unread-input line) that need to write a
// pre-formatted line directly into the same stream rather than through a
// log record. The output pumps do not use it: they write their drop-count
// suffix to their own sink.
func ReportStream(quiet, stdoutErrors bool) io.Writer {
	if quiet {
		return io.Discard
	}
	if stdoutErrors {
		return os.Stdout
	}
	return os.Stderr
}
