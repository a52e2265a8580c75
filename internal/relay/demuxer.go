package relay

import (
	"context"
	"errors"
	"io"
)

const defaultReadSize = 32 * 1024

// Source is the live encoder output. Stop must be idempotent and safe to call
// while a Read is in progress.
type Source interface {
	io.Reader
	Stop() error
}

// Demuxer pumps a Source into multipart parts.
type Demuxer struct {
	Boundary      string
	MaxFrameBytes int
	ReadSize      int
	// OnFrame, if set, is called after each part is written.
	OnFrame func(size int)
}

// Run reads src until EOF, an error, or ctx is done, writing one part per
// complete frame to dst and calling flush after each batch. Bytes left without
// an end-of-image marker at EOF are dropped. src is always stopped before Run
// returns.
func (d Demuxer) Run(ctx context.Context, src Source, dst io.Writer, flush func() error) (frames int, err error) {
	defer src.Stop()

	boundary := d.Boundary
	if boundary == "" {
		boundary = "frame"
	}
	size := d.ReadSize
	if size <= 0 {
		size = defaultReadSize
	}

	splitter := NewSplitter(d.MaxFrameBytes)
	buf := make([]byte, size)
	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			out, perr := splitter.Push(buf[:n])
			for _, f := range out {
				if err := WritePart(dst, boundary, f); err != nil {
					return frames, err
				}
				frames++
				if d.OnFrame != nil {
					d.OnFrame(len(f))
				}
			}
			if len(out) > 0 && flush != nil {
				if err := flush(); err != nil {
					return frames, err
				}
			}
			if perr != nil {
				return frames, perr
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return frames, nil
			}
			return frames, rerr
		}
	}
}
