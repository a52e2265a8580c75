package ffmpeg

import (
	"bytes"
	"sync"
)

// DefaultDiagnosticBytes bounds how much stderr is kept per process.
const DefaultDiagnosticBytes = 4000

// tailBuffer keeps only the last cap bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	cap       int
	truncated bool
}

func newTailBuffer(capacity int) *tailBuffer {
	if capacity <= 0 {
		capacity = DefaultDiagnosticBytes
	}
	return &tailBuffer{buf: make([]byte, 0, capacity), cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.cap {
		t.truncated = t.truncated || n > t.cap || len(t.buf) > 0
		t.buf = append(t.buf[:0], p[n-t.cap:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.cap; over > 0 {
		t.truncated = true
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

// String returns the retained text, trimmed, with a marker if older output
// was dropped.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := string(bytes.TrimSpace(t.buf))
	if t.truncated && s != "" {
		return "..." + s
	}
	return s
}

// limitBuffer keeps the first cap bytes and silently drops the rest.
type limitBuffer struct {
	buf bytes.Buffer
	cap int
}

func (l *limitBuffer) Write(p []byte) (int, error) {
	if room := l.cap - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
