package capture

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"tv-streamer/internal/ffmpeg"
	"tv-streamer/internal/storage"
)

func TestPipeline_Capture_appendsAfterExisting(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		name := fmt.Sprintf("1/frames/frame_%04d.webp", i)
		if err := store.Put(ctx, name, strings.NewReader("old"), storage.ObjectAttrs{}); err != nil {
			t.Fatal(err)
		}
	}

	params := testParams(t)
	params.MaxFrames = 8
	runner := &fakeRunner{frames: 8, segments: 1}
	p := newTestPipeline(t, runner, fakeProber{index: 1, found: true}, store, params)

	res, err := p.Capture(ctx, 1, "https://example.com/live.m3u8")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Frames != 8 || res.Audio != 1 || res.FramesOnly || res.Partial {
		t.Errorf("unexpected result %+v", res)
	}

	fc := runner.frameCalls()
	if len(fc) != 1 || argValue(fc[0], "-start_number") != "11" || argValue(fc[0], "-frames:v") != "8" {
		t.Errorf("unexpected frame command %v", fc)
	}

	for i := 1; i <= 10; i++ {
		data, _, _ := store.Get(fmt.Sprintf("1/frames/frame_%04d.webp", i))
		if string(data) != "old" {
			t.Errorf("frame %d was modified: %q", i, data)
		}
	}
	for i := 11; i <= 18; i++ {
		data, attrs, ok := store.Get(fmt.Sprintf("1/frames/frame_%04d.webp", i))
		if !ok || string(data) != fmt.Sprintf("asset-%d", i) || attrs.ContentType != "image/webp" {
			t.Errorf("frame %d: ok=%v data=%q attrs=%+v", i, ok, data, attrs)
		}
	}
	names, _ := store.List(ctx, "1/frames/")
	if len(names) != 18 {
		t.Errorf("expected 18 frames, got %d", len(names))
	}
	if _, attrs, ok := store.Get("1/audio/chunk_000.ogg"); !ok || attrs.ContentType != "audio/ogg" {
		t.Errorf("audio segment missing or mistyped: %v %+v", ok, attrs)
	}

	ac := runner.audioCalls()
	if len(ac) != 1 || argValue(ac[0], "-map") != "0:1" {
		t.Errorf("expected one explicit-index audio run, got %v", ac)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_probeFailureSkipsAudio(t *testing.T) {
	store := storage.NewMemoryStore()
	params := testParams(t)
	runner := &fakeRunner{frames: 3, segments: 2}
	prober := fakeProber{err: fmt.Errorf("%w: timed out", ffmpeg.ErrProbeFailed)}
	p := newTestPipeline(t, runner, prober, store, params)

	res, err := p.Capture(context.Background(), 4, "https://example.com/live.m3u8")
	if err != nil {
		t.Fatalf("Capture should degrade, got %v", err)
	}
	if !res.FramesOnly || res.Frames != 3 || res.Audio != 0 {
		t.Errorf("expected frames-only result, got %+v", res)
	}
	if !strings.Contains(res.AudioError, ffmpeg.ErrProbeFailed.Error()) {
		t.Errorf("unexpected audio error %q", res.AudioError)
	}
	if ac := runner.audioCalls(); len(ac) != 0 {
		t.Errorf("audio must not run after a failed probe, got %v", ac)
	}
	if names, _ := store.List(context.Background(), "4/audio/"); len(names) != 0 {
		t.Errorf("no audio should be uploaded: %v", names)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_noAudioStreamSkipsAudio(t *testing.T) {
	store := storage.NewMemoryStore()
	params := testParams(t)
	runner := &fakeRunner{frames: 2, segments: 2}
	p := newTestPipeline(t, runner, fakeProber{found: false}, store, params)

	res, err := p.Capture(context.Background(), 5, "https://example.com/live.m3u8")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !res.FramesOnly || res.Frames != 2 || res.Audio != 0 {
		t.Errorf("expected frames-only result, got %+v", res)
	}
	if res.AudioError != ErrNoAudioStream.Error() {
		t.Errorf("unexpected audio error %q", res.AudioError)
	}
	if ac := runner.audioCalls(); len(ac) != 0 {
		t.Errorf("audio must not run for a video-only source, got %v", ac)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_withoutProberRunsUnqualified(t *testing.T) {
	store := storage.NewMemoryStore()
	params := testParams(t)
	runner := &fakeRunner{frames: 1, segments: 2}
	p := newTestPipeline(t, runner, nil, store, params)

	res, err := p.Capture(context.Background(), 6, "https://example.com/live.m3u8")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.FramesOnly || res.Audio != 2 {
		t.Errorf("expected audio without a probe, got %+v", res)
	}
	ac := runner.audioCalls()
	if len(ac) != 1 || slices.Contains(ac[0], "-map") {
		t.Errorf("expected a single unqualified audio run, got %v", ac)
	}
}

func TestPipeline_Capture_audioFailureKeepsFrames(t *testing.T) {
	store := storage.NewMemoryStore()
	params := testParams(t)
	runner := &fakeRunner{
		frames:   3,
		audioErr: func([]string) error { return processFailed("Output file does not contain any stream") },
	}
	p := newTestPipeline(t, runner, fakeProber{index: 1, found: true}, store, params)

	res, err := p.Capture(context.Background(), 7, "https://example.com/live.m3u8")
	if err != nil {
		t.Fatalf("Capture should degrade, got %v", err)
	}
	if !res.FramesOnly || res.Frames != 3 || res.Audio != 0 {
		t.Errorf("expected frames-only result, got %+v", res)
	}
	if !strings.Contains(res.AudioError, ErrAudioExtractionFailed.Error()) {
		t.Errorf("unexpected audio error %q", res.AudioError)
	}
	if ac := runner.audioCalls(); len(ac) != 2 {
		t.Errorf("expected explicit then unqualified attempt, got %v", ac)
	}
	if names, _ := store.List(context.Background(), "7/audio/"); len(names) != 0 {
		t.Errorf("failed audio must not upload stray segments: %v", names)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_retriesUnqualifiedAudio(t *testing.T) {
	store := storage.NewMemoryStore()
	_ = store.Put(context.Background(), "2/audio/chunk_004.ogg", strings.NewReader("old"), storage.ObjectAttrs{})

	runner := &fakeRunner{
		frames:   1,
		segments: 2,
		audioErr: func(args []string) error {
			if slices.Contains(args, "-map") {
				return processFailed("Stream map '0:2' matches no streams")
			}
			return nil
		},
	}
	p := newTestPipeline(t, runner, fakeProber{index: 2, found: true}, store, testParams(t))

	res, err := p.Capture(context.Background(), 2, "https://example.com/live.m3u8")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.FramesOnly || res.Audio != 2 {
		t.Errorf("expected audio from retry, got %+v", res)
	}

	ac := runner.audioCalls()
	if len(ac) != 2 || argValue(ac[0], "-map") != "0:2" || slices.Contains(ac[1], "-map") {
		t.Fatalf("expected explicit then unqualified attempt, got %v", ac)
	}
	if argValue(ac[1], "-segment_start_number") != "5" {
		t.Errorf("retry must keep the allocated start, got %v", ac[1])
	}

	names, _ := store.List(context.Background(), "2/audio/")
	want := []string{"2/audio/chunk_004.ogg", "2/audio/chunk_005.ogg", "2/audio/chunk_006.ogg"}
	if !slices.Equal(names, want) {
		t.Errorf("got %v, want %v", names, want)
	}
}

func TestPipeline_Capture_frameFailureAborts(t *testing.T) {
	store := storage.NewMemoryStore()
	params := testParams(t)
	runner := &fakeRunner{frameErr: processFailed("Server returned 403 Forbidden")}
	p := newTestPipeline(t, runner, fakeProber{index: 1, found: true}, store, params)

	res, err := p.Capture(context.Background(), 1, "https://example.com/live.m3u8")
	if !errors.Is(err, ffmpeg.ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	if got := ffmpeg.Diagnostics(err); got != "Server returned 403 Forbidden" {
		t.Errorf("diagnostics not carried: %q", got)
	}
	if len(runner.audioCalls()) != 0 {
		t.Error("audio must not run after frame failure")
	}
	if names, _ := store.List(context.Background(), "1/"); len(names) != 0 {
		t.Errorf("nothing should be uploaded, got %v", names)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_timeoutAborts(t *testing.T) {
	params := testParams(t)
	runner := &fakeRunner{frameErr: &ffmpeg.ProcessError{Kind: ffmpeg.ErrTimedOut, Command: "ffmpeg"}}
	p := newTestPipeline(t, runner, nil, storage.NewMemoryStore(), params)

	_, err := p.Capture(context.Background(), 1, "https://example.com/live.m3u8")
	if !errors.Is(err, ffmpeg.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_partialUpload(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), ok: 3}
	params := testParams(t)
	runner := &fakeRunner{frames: 5, segments: 1}
	p := newTestPipeline(t, runner, nil, store, params)

	res, err := p.Capture(context.Background(), 1, "https://example.com/live.m3u8")
	if !errors.Is(err, storage.ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if res == nil || !res.Partial || res.Frames != 3 || res.Audio != 0 {
		t.Fatalf("expected partial result with 3 frames, got %+v", res)
	}

	names, _ := store.List(context.Background(), "1/frames/")
	want := []string{"1/frames/frame_0000.webp", "1/frames/frame_0001.webp", "1/frames/frame_0002.webp"}
	if !slices.Equal(names, want) {
		t.Errorf("uploaded assets must stay in place: got %v", names)
	}
	assertEmptyDir(t, params.ScratchDir)
}

func TestPipeline_Capture_leasePerStream(t *testing.T) {
	runner := &fakeRunner{frames: 1, started: make(chan struct{}), block: make(chan struct{})}
	p := newTestPipeline(t, runner, nil, storage.NewMemoryStore(), testParams(t))

	done := make(chan error, 1)
	go func() {
		_, err := p.Capture(context.Background(), 1, "https://example.com/a.m3u8")
		done <- err
	}()
	<-runner.started

	if _, err := p.Capture(context.Background(), 1, "https://example.com/a.m3u8"); !errors.Is(err, ErrCaptureInProgress) {
		t.Errorf("expected ErrCaptureInProgress, got %v", err)
	}

	close(runner.block)
	if err := <-done; err != nil {
		t.Fatalf("first capture: %v", err)
	}

	res, err := p.Capture(context.Background(), 1, "https://example.com/a.m3u8")
	if err != nil {
		t.Fatalf("lease should be released: %v", err)
	}
	if res.Frames != 1 {
		t.Errorf("expected next cycle to upload 1 frame, got %+v", res)
	}
}

func TestPipeline_Capture_sourceOptions(t *testing.T) {
	params := testParams(t)
	params.Referer = "https://tv.example/"
	params.UserAgent = "Mozilla/5.0"
	params.ReconnectDelayMax = 5
	params.IOTimeout = 10 * time.Second
	runner := &fakeRunner{frames: 1}
	p := newTestPipeline(t, runner, nil, storage.NewMemoryStore(), params)

	if _, err := p.Capture(context.Background(), 3, "https://example.com/live.m3u8"); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	fc := runner.frameCalls()[0]
	if h := argValue(fc, "-headers"); !strings.Contains(h, "Referer: https://tv.example/") {
		t.Errorf("missing referer header in %q", h)
	}
	if argValue(fc, "-i") != "https://example.com/live.m3u8" {
		t.Errorf("source url not passed through: %v", fc)
	}
	if argValue(fc, "-t") != "8" {
		t.Errorf("duration not bounded: %v", fc)
	}
	if argValue(fc, "-rw_timeout") != "10000000" {
		t.Errorf("stall timeout not passed through: %v", fc)
	}
}

func TestLeases(t *testing.T) {
	l := NewLeases()
	release, ok := l.TryAcquire(1)
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := l.TryAcquire(1); ok {
		t.Error("second acquire should fail")
	}
	if r2, ok := l.TryAcquire(2); !ok {
		t.Error("other stream should be free")
	} else {
		r2()
	}
	release()
	release()
	if r, ok := l.TryAcquire(1); !ok {
		t.Error("lease should be free after release")
	} else {
		r()
	}
}
