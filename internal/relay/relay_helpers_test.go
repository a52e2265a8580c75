package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/textproto"
	"strconv"
	"sync/atomic"
	"testing"
)

// jpeg returns a minimal SOI...EOI image whose body never contains FF D9.
func jpeg(i int) []byte {
	body := []byte(fmt.Sprintf("image-%d-", i))
	body = append(body, bytes.Repeat([]byte{0xFF, 0x00, byte(i)}, i%7+1)...)
	out := append([]byte{0xFF, 0xD8}, body...)
	return append(out, 0xFF, 0xD9)
}

func jpegs(n int) (all []byte, each [][]byte) {
	for i := 0; i < n; i++ {
		j := jpeg(i)
		each = append(each, j)
		all = append(all, j...)
	}
	return all, each
}

// chunkedSource yields data in the given chunk sizes and records Stop calls.
type chunkedSource struct {
	data    []byte
	sizes   []int
	stopped atomic.Int32
	// block, if set, is returned from Read once data is exhausted instead of EOF.
	block chan struct{}
}

func (s *chunkedSource) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		if s.block != nil {
			<-s.block
		}
		return 0, io.EOF
	}
	n := len(s.data)
	if len(s.sizes) > 0 {
		n = s.sizes[0]
		s.sizes = s.sizes[1:]
	}
	if n > len(s.data) {
		n = len(s.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, s.data[:n])
	s.data = s.data[n:]
	return n, nil
}

func (s *chunkedSource) Stop() error {
	if s.stopped.Add(1) == 1 && s.block != nil {
		close(s.block)
	}
	return nil
}

func randomSizes(r *rand.Rand, total int) []int {
	var sizes []int
	for total > 0 {
		n := r.Intn(17) + 1
		sizes = append(sizes, n)
		total -= n
	}
	return sizes
}

type part struct {
	contentType   string
	contentLength int
	body          []byte
}

// readParts parses a relay body, failing the test on any framing error.
func readParts(t *testing.T, body []byte, boundary string) []part {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(body))
	tp := textproto.NewReader(r)
	var parts []part
	for {
		line, err := tp.ReadLine()
		if err == io.EOF {
			return parts
		}
		if err != nil {
			t.Fatalf("read boundary: %v", err)
		}
		if line != "--"+boundary {
			t.Fatalf("expected boundary line, got %q", line)
		}
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			t.Fatalf("read headers: %v", err)
		}
		n, err := strconv.Atoi(hdr.Get("Content-Length"))
		if err != nil {
			t.Fatalf("bad Content-Length %q", hdr.Get("Content-Length"))
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			t.Fatalf("read payload: %v", err)
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(r, crlf); err != nil || string(crlf) != "\r\n" {
			t.Fatalf("expected CRLF after payload, got %q (%v)", crlf, err)
		}
		parts = append(parts, part{contentType: hdr.Get("Content-Type"), contentLength: n, body: payload})
	}
}
