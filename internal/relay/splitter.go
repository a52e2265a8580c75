// Package relay turns the raw JPEG byte stream of a live encoder into a
// multipart/x-mixed-replace HTTP response.
package relay

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxFrameBytes bounds how much unterminated data the splitter holds.
const DefaultMaxFrameBytes = 8 << 20

// ErrFrameTooLarge is returned when no end-of-image marker appears within the
// configured bound.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

var endOfImage = []byte{0xFF, 0xD9}

// Splitter cuts a byte stream at JPEG end-of-image markers (FF D9).
//
// It is a syntactic cut only: the start-of-image marker is not checked and
// an FF D9 pair inside a payload (for example an embedded EXIF thumbnail)
// would end the frame early. ffmpeg's mjpeg muxer does not produce such
// payloads; arbitrary input is not validated.
type Splitter struct {
	buf []byte
	// scanFrom is where the next marker search starts; bytes before it are
	// known to contain no complete marker.
	scanFrom int
	max      int
}

// NewSplitter returns a Splitter. A non-positive max uses DefaultMaxFrameBytes.
func NewSplitter(max int) *Splitter {
	if max <= 0 {
		max = DefaultMaxFrameBytes
	}
	return &Splitter{max: max}
}

// Push appends chunk and returns every frame completed by it, in order. Each
// returned frame runs from the start of the buffer through the marker and is
// a fresh copy owned by the caller.
func (s *Splitter) Push(chunk []byte) ([][]byte, error) {
	s.buf = append(s.buf, chunk...)

	var frames [][]byte
	start := 0
	for {
		i := bytes.Index(s.buf[start+s.scanFrom:], endOfImage)
		if i < 0 {
			break
		}
		end := start + s.scanFrom + i + len(endOfImage)
		frame := make([]byte, end-start)
		copy(frame, s.buf[start:end])
		frames = append(frames, frame)
		start = end
		s.scanFrom = 0
	}

	if start > 0 {
		n := copy(s.buf, s.buf[start:])
		s.buf = s.buf[:n]
	}
	// A trailing 0xFF may be the first half of a marker split across chunks.
	s.scanFrom = len(s.buf) - 1
	if s.scanFrom < 0 {
		s.scanFrom = 0
	}

	if len(s.buf) > s.max {
		return frames, fmt.Errorf("%w: %d bytes buffered", ErrFrameTooLarge, len(s.buf))
	}
	return frames, nil
}

// Buffered returns the number of bytes waiting for a marker.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}
