package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"tv-streamer/internal/ffmpeg"
	"tv-streamer/internal/platform/logger"
	"tv-streamer/internal/storage"
)

// fakeRunner stands in for ffmpeg: it writes numbered files to the output
// pattern the way image2 and segment muxers do.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string

	frames   int
	frameErr error

	segments int
	// audioErr decides the outcome of each audio attempt; nil means success.
	audioErr func(args []string) error

	started chan struct{}
	block   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, c ffmpeg.Command, _ time.Duration) (*ffmpeg.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(c.Args))
	first := len(f.calls) == 1
	f.mu.Unlock()

	if first && f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	pattern := c.Args[len(c.Args)-1]
	if isFrameCommand(c.Args) {
		if f.frameErr != nil {
			return nil, f.frameErr
		}
		return &ffmpeg.Result{}, writeNumbered(pattern, argInt(c.Args, "-start_number"), f.frames)
	}

	if f.audioErr != nil {
		if err := f.audioErr(c.Args); err != nil {
			// A failed run may still leave a stray segment behind.
			_ = writeNumbered(pattern, argInt(c.Args, "-segment_start_number")+50, 1)
			return nil, err
		}
	}
	return &ffmpeg.Result{}, writeNumbered(pattern, argInt(c.Args, "-segment_start_number"), f.segments)
}

func (f *fakeRunner) audioCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if !isFrameCommand(c) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRunner) frameCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if isFrameCommand(c) {
			out = append(out, c)
		}
	}
	return out
}

func isFrameCommand(args []string) bool {
	return argValue(args, "-f") == "image2"
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func argInt(args []string, flag string) int {
	n, _ := strconv.Atoi(argValue(args, flag))
	return n
}

func writeNumbered(pattern string, start, n int) error {
	for i := 0; i < n; i++ {
		name := fmt.Sprintf(pattern, start+i)
		if err := os.WriteFile(name, []byte(fmt.Sprintf("asset-%d", start+i)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func processFailed(diag string) error {
	return &ffmpeg.ProcessError{Kind: ffmpeg.ErrProcessFailed, Command: "ffmpeg", ExitCode: 1, Diagnostics: diag}
}

type fakeProber struct {
	index int
	found bool
	err   error
}

func (p fakeProber) AudioStreamIndex(context.Context, ffmpeg.Source) (int, bool, error) {
	return p.index, p.found, p.err
}

// flakyStore fails every Put after the first ok writes.
type flakyStore struct {
	*storage.MemoryStore
	mu sync.Mutex
	ok int
}

func (s *flakyStore) Put(ctx context.Context, name string, r io.Reader, attrs storage.ObjectAttrs) error {
	s.mu.Lock()
	if s.ok <= 0 {
		s.mu.Unlock()
		return errors.New("503 backend unavailable")
	}
	s.ok--
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, name, r, attrs)
}

func testParams(t *testing.T) Params {
	t.Helper()
	return Params{
		FFmpegPath:          "ffmpeg",
		Duration:            8 * time.Second,
		FPS:                 1,
		Scale:               "640:-2",
		AudioSegmentSeconds: 10,
		TimeoutSlack:        time.Second,
		ScratchDir:          t.TempDir(),
	}
}

func newTestPipeline(t *testing.T, r Runner, p AudioProber, store storage.ObjectStore, params Params) *Pipeline {
	t.Helper()
	up := storage.NewUploader(store, "private, max-age=3600", logger.Discard())
	return NewPipeline(r, p, up, params, logger.Discard(), nil)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch not cleaned: %d entries left", len(entries))
	}
}
