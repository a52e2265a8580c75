package ffmpeg

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

const (
	// DefaultGrace is how long a terminated process gets before SIGKILL.
	DefaultGrace = 3 * time.Second

	// DefaultTimeout applies when Run is called without a timeout.
	DefaultTimeout = 10 * time.Minute

	maxStdoutBytes = 4 << 20
)

// Result is the outcome of a completed Run.
type Result struct {
	ExitCode int
	// Stdout holds at most the first 4 MiB the process wrote to stdout.
	Stdout      []byte
	Diagnostics string
	Duration    time.Duration
}

// Runner spawns and supervises media subprocesses. Every process it starts
// is reaped before the corresponding Run returns or Stream is stopped.
type Runner struct {
	log       *slog.Logger
	grace     time.Duration
	diagBytes int
}

// NewRunner returns a Runner. A non-positive grace uses DefaultGrace.
func NewRunner(log *slog.Logger, grace time.Duration) *Runner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Runner{log: log, grace: grace, diagBytes: DefaultDiagnosticBytes}
}

// Run executes c to completion. On timeout the process group receives SIGTERM,
// then SIGKILL after the grace period, and the error kind is ErrTimedOut.
func (r *Runner) Run(ctx context.Context, c Command, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	diag := newTailBuffer(r.diagBytes)
	stdout := &limitBuffer{cap: maxStdoutBytes}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Env = c.environ()
	cmd.Stdout = stdout
	cmd.Stderr = diag
	cmd.WaitDelay = r.grace
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Kind: ErrSpawnFailed, Command: c.Name(), ExitCode: -1, Err: err}
	}
	r.log.Debug("process started",
		slog.String("command", c.String()),
		slog.Int("pid", cmd.Process.Pid),
		slog.Duration("timeout", timeout))

	waitErr := cmd.Wait()
	res := &Result{
		ExitCode:    exitCode(cmd, waitErr),
		Stdout:      stdout.buf.Bytes(),
		Diagnostics: diag.String(),
		Duration:    time.Since(start),
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return res, &ProcessError{Kind: ErrTimedOut, Command: c.Name(), ExitCode: res.ExitCode, Diagnostics: res.Diagnostics}
	case ctx.Err() != nil:
		return res, &ProcessError{Kind: ErrCanceled, Command: c.Name(), ExitCode: res.ExitCode, Diagnostics: res.Diagnostics, Err: ctx.Err()}
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			// I/O or WaitDelay failure after the process ran.
			return res, &ProcessError{Kind: ErrProcessFailed, Command: c.Name(), ExitCode: res.ExitCode, Diagnostics: res.Diagnostics, Err: waitErr}
		}
		return res, &ProcessError{Kind: ErrProcessFailed, Command: c.Name(), ExitCode: res.ExitCode, Diagnostics: res.Diagnostics}
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
