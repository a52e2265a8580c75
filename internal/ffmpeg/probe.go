package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultProbeTimeout bounds a single ffprobe call.
const DefaultProbeTimeout = 25 * time.Second

type probeOutput struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// Prober asks ffprobe about a source's audio streams.
type Prober struct {
	runner  *Runner
	path    string
	timeout time.Duration
}

// NewProber returns a Prober running the ffprobe binary at path.
func NewProber(runner *Runner, path string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{runner: runner, path: path, timeout: timeout}
}

// AudioStreamIndex returns the absolute index of the first audio stream in src.
// found is false when the source has no audio. Any failure is reported with
// ErrProbeFailed.
func (p *Prober) AudioStreamIndex(ctx context.Context, src Source) (index int, found bool, err error) {
	res, err := p.runner.Run(ctx, Command{Path: p.path, Args: ProbeArgs(src)}, p.timeout)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	return parseAudioIndex(res.Stdout)
}

func parseAudioIndex(data []byte) (int, bool, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, false, fmt.Errorf("%w: parse ffprobe output: %w", ErrProbeFailed, err)
	}
	for _, s := range out.Streams {
		if s.CodecType == "" || s.CodecType == "audio" {
			return s.Index, true, nil
		}
	}
	return 0, false, nil
}
