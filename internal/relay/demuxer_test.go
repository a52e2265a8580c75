package relay

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestWritePart_format(t *testing.T) {
	var buf bytes.Buffer
	frame := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	if err := WritePart(&buf, "frame", frame); err != nil {
		t.Fatal(err)
	}
	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 5\r\n\r\n\xFF\xD8\xAA\xFF\xD9\r\n"
	if buf.String() != want {
		t.Errorf("got %q\nwant %q", buf.String(), want)
	}
}

func TestDemuxer_Run_emits_every_frame(t *testing.T) {
	all, each := jpegs(40)
	r := rand.New(rand.NewSource(7))
	src := &chunkedSource{data: all, sizes: randomSizes(r, len(all))}

	var out bytes.Buffer
	flushes := 0
	frames, err := Demuxer{Boundary: "frame", ReadSize: 11}.Run(context.Background(), src, &out, func() error {
		flushes++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if frames != len(each) {
		t.Errorf("expected %d frames, got %d", len(each), frames)
	}
	if flushes == 0 {
		t.Error("expected at least one flush")
	}
	if src.stopped.Load() == 0 {
		t.Error("source must be stopped on EOF")
	}

	parts := readParts(t, out.Bytes(), "frame")
	if len(parts) != len(each) {
		t.Fatalf("expected %d parts, got %d", len(each), len(parts))
	}
	for i, p := range parts {
		if p.contentType != "image/jpeg" {
			t.Errorf("part %d: content type %q", i, p.contentType)
		}
		if p.contentLength != len(p.body) || !bytes.Equal(p.body, each[i]) {
			t.Errorf("part %d: Content-Length %d, payload %d bytes", i, p.contentLength, len(p.body))
		}
	}
}

func TestDemuxer_Run_drops_partial_frame_at_eof(t *testing.T) {
	all, _ := jpegs(3)
	src := &chunkedSource{data: append(all, 0xFF, 0xD8, 0x42)}

	var out bytes.Buffer
	frames, err := Demuxer{}.Run(context.Background(), src, &out, nil)
	if err != nil {
		t.Fatal(err)
	}
	if frames != 3 {
		t.Errorf("expected 3 frames, got %d", frames)
	}
	if bytes.Contains(out.Bytes(), []byte{0xFF, 0xD8, 0x42}) {
		t.Error("trailing partial frame must not be emitted")
	}
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("client went away")
	}
	w.after--
	return len(p), nil
}

func TestDemuxer_Run_stops_source_on_write_error(t *testing.T) {
	all, _ := jpegs(10)
	src := &chunkedSource{data: all, block: make(chan struct{})}

	_, err := Demuxer{}.Run(context.Background(), src, &failingWriter{after: 4}, nil)
	if err == nil {
		t.Fatal("expected write error")
	}
	if src.stopped.Load() == 0 {
		t.Error("source must be stopped when the client goes away")
	}
}

func TestDemuxer_Run_cancel_unblocks(t *testing.T) {
	src := &chunkedSource{block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		// A cancelled request is observed by the supervisor, which stops the
		// source; emulate that wiring here.
		go func() {
			<-ctx.Done()
			src.Stop()
		}()
		_, err := Demuxer{}.Run(ctx, src, &bytes.Buffer{}, nil)
		done <- err
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if src.stopped.Load() == 0 {
		t.Error("source must be stopped")
	}
}

func TestDemuxer_Run_frame_too_large(t *testing.T) {
	src := &chunkedSource{data: bytes.Repeat([]byte{0x01}, 64)}
	_, err := Demuxer{MaxFrameBytes: 32}.Run(context.Background(), src, &bytes.Buffer{}, nil)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}
