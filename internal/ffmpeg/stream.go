package ffmpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is a running subprocess whose stdout is consumed incrementally.
// Read and Stop may be called from different goroutines.
type Stream struct {
	cmd   *exec.Cmd
	name  string
	out   *os.File
	diag  *tailBuffer
	grace time.Duration
	log   *slog.Logger

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	stopped  atomic.Bool
}

// Stream starts c with its stdout connected to the returned handle. When ctx
// is done the stream stops itself.
func (r *Runner) Stream(ctx context.Context, c Command) (*Stream, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &ProcessError{Kind: ErrSpawnFailed, Command: c.Name(), ExitCode: -1, Err: err}
	}

	diag := newTailBuffer(r.diagBytes)
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = c.environ()
	cmd.Stdout = pw
	cmd.Stderr = diag
	cmd.WaitDelay = r.grace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &ProcessError{Kind: ErrSpawnFailed, Command: c.Name(), ExitCode: -1, Err: err}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	s := &Stream{
		cmd:   cmd,
		name:  c.Name(),
		out:   pr,
		diag:  diag,
		grace: r.grace,
		log:   r.log,
		done:  make(chan struct{}),
	}

	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	r.log.Debug("stream started", slog.String("command", c.String()), slog.Int("pid", cmd.Process.Pid))
	return s, nil
}

// Read reads raw subprocess output. After Stop, or once the process has
// exited and its output is drained, Read returns io.EOF.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if err != nil && errors.Is(err, os.ErrClosed) {
		return n, io.EOF
	}
	return n, err
}

// Pid returns the subprocess id.
func (s *Stream) Pid() int {
	return s.cmd.Process.Pid
}

// Done is closed once the subprocess has been reaped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stop terminates the subprocess and releases the output pipe. It closes the
// pipe first so a child blocked on a full pipe sees EPIPE, sends SIGTERM to
// the process group, and escalates to SIGKILL after the grace period. Stop is
// idempotent; every caller returns only after the child has been reaped.
// The returned error is non-nil only if the process had already failed on its
// own before Stop was called.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.out.Close()

		select {
		case <-s.done:
			return
		default:
		}

		s.stopped.Store(true)
		if err := terminate(s.cmd.Process); err != nil {
			s.log.Debug("terminate failed", slog.String("command", s.name), slog.String("error", err.Error()))
		}

		t := time.NewTimer(s.grace)
		defer t.Stop()
		select {
		case <-s.done:
		case <-t.C:
			s.log.Warn("process ignored SIGTERM, killing",
				slog.String("command", s.name),
				slog.Int("pid", s.cmd.Process.Pid))
			_ = kill(s.cmd.Process)
			<-s.done
		}
	})
	return s.Err()
}

// Err reports how the process ended. It returns nil while the process is
// running, after a clean exit, or when the exit was caused by Stop.
func (s *Stream) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	if s.waitErr == nil || s.stopped.Load() {
		return nil
	}
	return &ProcessError{
		Kind:        ErrProcessFailed,
		Command:     s.name,
		ExitCode:    exitCode(s.cmd, s.waitErr),
		Diagnostics: s.diag.String(),
	}
}
