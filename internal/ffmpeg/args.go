package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source describes how the upstream media is opened.
type Source struct {
	URL       string
	Referer   string
	UserAgent string
	// ReconnectDelayMax enables HTTP reconnect with the given max delay in
	// seconds. Zero disables the reconnect flags.
	ReconnectDelayMax int
	// IOTimeout bounds a stalled HTTP read or write. Zero uses
	// DefaultIOTimeout; a negative value disables it.
	IOTimeout time.Duration
}

// FrameParams configures numbered still-frame extraction.
type FrameParams struct {
	Duration time.Duration
	FPS      int
	// Scale is an ffmpeg scale expression, e.g. "640:-2".
	Scale string
	// Quality is passed as -quality when positive (libwebp 0-100).
	Quality int
	// MaxFrames caps the number of frames written when positive.
	MaxFrames   int
	StartNumber int
	// Pattern is the printf-style output path, e.g. "/tmp/x/frame_%04d.webp".
	Pattern string
}

// AudioParams configures segmented audio extraction.
type AudioParams struct {
	Duration time.Duration
	// StreamIndex selects an absolute input stream when >= 0. A negative
	// value lets ffmpeg pick the first available audio stream.
	StreamIndex    int
	Codec          string
	Bitrate        string
	SampleRate     int
	Channels       int
	SegmentSeconds int
	StartNumber    int
	Pattern        string
}

// RelayParams configures the live MJPEG relay encoder.
type RelayParams struct {
	FPS   int
	Width int
	// Quality is the mjpeg -q:v value, 2 (best) to 31 (worst).
	Quality int
	// Boundary is the multipart token the relay frames parts with.
	Boundary string
}

// Defaults for fields left at zero.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 1
	DefaultAudioCodec = "libopus"
	DefaultBitrate    = "64k"
	DefaultBoundary   = "frame"
	DefaultIOTimeout  = 15 * time.Second
)

// HeaderBlob renders the optional HTTP headers in ffmpeg's -headers format.
func (s Source) HeaderBlob() string {
	var b strings.Builder
	if s.Referer != "" {
		b.WriteString("Referer: " + s.Referer + "\r\n")
	}
	if s.UserAgent != "" {
		b.WriteString("User-Agent: " + s.UserAgent + "\r\n")
	}
	return b.String()
}

func (s Source) isHTTP() bool {
	u := strings.ToLower(s.URL)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// inputArgs returns the global and input options shared by every ffmpeg run.
func inputArgs(src Source, d time.Duration) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning", "-y"}
	if src.isHTTP() {
		if t := ioTimeout(src.IOTimeout); t > 0 {
			args = append(args, "-rw_timeout", strconv.FormatInt(t.Microseconds(), 10))
		}
	}
	if src.ReconnectDelayMax > 0 && src.isHTTP() {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", strconv.Itoa(src.ReconnectDelayMax),
		)
	}
	if h := src.HeaderBlob(); h != "" {
		args = append(args, "-headers", h)
	}
	args = append(args, "-i", src.URL)
	if d > 0 {
		args = append(args, "-t", seconds(d))
	}
	return args
}

// FrameArgs builds the frame-extraction argument list.
func FrameArgs(src Source, p FrameParams) []string {
	args := inputArgs(src, p.Duration)

	args = append(args, "-map", "0:v:0")
	if vf := videoFilter(p.FPS, p.Scale); vf != "" {
		args = append(args, "-vf", vf)
	}
	if p.Quality > 0 {
		args = append(args, "-quality", strconv.Itoa(p.Quality))
	}
	if p.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(p.MaxFrames))
	}
	args = append(args,
		"-start_number", strconv.Itoa(p.StartNumber),
		"-f", "image2",
		p.Pattern,
	)
	return args
}

// AudioArgs builds the segmented audio-extraction argument list.
func AudioArgs(src Source, p AudioParams) []string {
	args := inputArgs(src, p.Duration)

	if p.StreamIndex >= 0 {
		args = append(args, "-map", fmt.Sprintf("0:%d", p.StreamIndex))
	}
	args = append(args, "-vn",
		"-c:a", orDefault(p.Codec, DefaultAudioCodec),
		"-b:a", orDefault(p.Bitrate, DefaultBitrate),
		"-ar", strconv.Itoa(positive(p.SampleRate, DefaultSampleRate)),
		"-ac", strconv.Itoa(positive(p.Channels, DefaultChannels)),
		"-f", "segment",
		"-segment_time", strconv.Itoa(positive(p.SegmentSeconds, 10)),
		"-segment_start_number", strconv.Itoa(p.StartNumber),
		"-reset_timestamps", "1",
		p.Pattern,
	)
	return args
}

// RelayArgs builds the argument list for the live relay encoder, which writes
// back-to-back JPEG images to stdout.
func RelayArgs(src Source, p RelayParams) []string {
	args := inputArgs(src, 0)

	scale := ""
	if p.Width > 0 {
		scale = strconv.Itoa(p.Width) + ":-2"
	}
	args = append(args, "-map", "0:v:0", "-an")
	if vf := videoFilter(p.FPS, scale); vf != "" {
		args = append(args, "-vf", vf)
	}
	args = append(args,
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(clamp(p.Quality, 2, 31)),
		"-f", "mjpeg",
		"pipe:1",
	)
	return args
}

// ProbeArgs builds the ffprobe argument list that reports audio streams as JSON.
func ProbeArgs(src Source) []string {
	args := []string{"-v", "error"}
	if h := src.HeaderBlob(); h != "" {
		args = append(args, "-headers", h)
	}
	return append(args,
		"-select_streams", "a",
		"-show_streams",
		"-of", "json",
		src.URL,
	)
}

func ioTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultIOTimeout
	}
	return d
}

func videoFilter(fps int, scale string) string {
	var parts []string
	if fps > 0 {
		parts = append(parts, "fps="+strconv.Itoa(fps))
	}
	if scale != "" {
		parts = append(parts, "scale="+scale)
	}
	return strings.Join(parts, ",")
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
