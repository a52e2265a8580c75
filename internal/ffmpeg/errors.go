package ffmpeg

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailed means the binary could not be started at all.
	ErrSpawnFailed = errors.New("spawn failed")

	// ErrProcessFailed means the process exited with a non-zero status.
	ErrProcessFailed = errors.New("process failed")

	// ErrTimedOut means the process outlived its deadline and was terminated.
	ErrTimedOut = errors.New("process timed out")

	// ErrCanceled means the caller's context ended before the process did.
	ErrCanceled = errors.New("process canceled")

	// ErrProbeFailed means ffprobe did not produce usable stream information.
	ErrProbeFailed = errors.New("probe failed")
)

// ProcessError describes why a supervised subprocess did not succeed.
type ProcessError struct {
	// Kind is one of the sentinel errors above.
	Kind     error
	Command  string
	ExitCode int
	// Diagnostics is the bounded tail of the process's stderr.
	Diagnostics string
	Err         error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Command, e.Kind)
	if e.Kind == ErrProcessFailed {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *ProcessError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Diagnostics extracts captured stderr text from err, if any.
func Diagnostics(err error) string {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Diagnostics
	}
	return ""
}
