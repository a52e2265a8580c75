// Package capture runs bounded frame and audio extraction for a stream and
// appends the results to its asset history.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tv-streamer/internal/asset"
	"tv-streamer/internal/ffmpeg"
	"tv-streamer/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	// ErrCaptureInProgress is returned when another cycle holds the stream.
	ErrCaptureInProgress = errors.New("capture already in progress")

	// ErrAudioExtractionFailed means neither audio attempt succeeded. The
	// cycle still succeeds with frames only.
	ErrAudioExtractionFailed = errors.New("audio extraction failed")

	// ErrNoAudioStream means the probe found no audio in the source.
	ErrNoAudioStream = errors.New("no audio stream")
)

// Runner runs one ffmpeg invocation to completion.
type Runner interface {
	Run(ctx context.Context, c ffmpeg.Command, timeout time.Duration) (*ffmpeg.Result, error)
}

// AudioProber reports the index of a source's audio stream.
type AudioProber interface {
	AudioStreamIndex(ctx context.Context, src ffmpeg.Source) (index int, found bool, err error)
}

// AssetStore lists and uploads a stream's assets.
type AssetStore interface {
	List(ctx context.Context, streamID int64, kind asset.Kind) ([]string, error)
	Upload(ctx context.Context, localPath string, streamID int64, kind asset.Kind) (string, error)
}

const (
	framePattern = "frame_%04d.webp"
	audioPattern = "chunk_%03d.ogg"
)

// Params configures one capture cycle.
type Params struct {
	FFmpegPath string
	Duration   time.Duration
	FPS        int
	Scale      string
	Quality    int
	// MaxFrames caps frames per cycle when positive.
	MaxFrames int

	AudioSegmentSeconds int
	AudioCodec          string
	AudioBitrate        string

	Referer           string
	UserAgent         string
	ReconnectDelayMax int
	IOTimeout         time.Duration

	// TimeoutSlack is added to Duration to bound each ffmpeg run.
	TimeoutSlack time.Duration
	// ScratchDir holds per-cycle directories; empty uses os.TempDir.
	ScratchDir string
}

func (p Params) source(url string) ffmpeg.Source {
	return ffmpeg.Source{
		URL:               url,
		Referer:           p.Referer,
		UserAgent:         p.UserAgent,
		ReconnectDelayMax: p.ReconnectDelayMax,
		IOTimeout:         p.IOTimeout,
	}
}

func (p Params) timeout() time.Duration {
	slack := p.TimeoutSlack
	if slack <= 0 {
		slack = time.Minute
	}
	return p.Duration + slack
}

// Result reports what one cycle uploaded.
type Result struct {
	CycleID  string `json:"cycle_id"`
	StreamID int64  `json:"stream_id"`
	Frames   int    `json:"frames"`
	Audio    int    `json:"audio"`
	// FramesOnly is set when audio extraction failed after the retry.
	FramesOnly bool `json:"frames_only"`
	// Partial is set when an upload failed after some assets were stored.
	Partial    bool   `json:"partial"`
	AudioError string `json:"audio_error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Pipeline runs capture cycles. Cycles for different streams may run
// concurrently; a stream has at most one cycle at a time.
type Pipeline struct {
	runner  Runner
	prober  AudioProber
	assets  AssetStore
	leases  *Leases
	params  Params
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewPipeline returns a Pipeline. prober and m may be nil.
func NewPipeline(runner Runner, prober AudioProber, assets AssetStore, params Params, log *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		runner:  runner,
		prober:  prober,
		assets:  assets,
		leases:  NewLeases(),
		params:  params,
		log:     log,
		metrics: m,
	}
}

// Capture runs one cycle for streamID. The stream's lease is held from
// allocation through upload. On an upload failure the returned Result
// carries the counts stored so far alongside the error.
func (p *Pipeline) Capture(ctx context.Context, streamID int64, sourceURL string) (*Result, error) {
	release, ok := p.leases.TryAcquire(streamID)
	if !ok {
		p.metrics.IncCaptureCycle(metrics.ResultBusy)
		return nil, ErrCaptureInProgress
	}
	defer release()

	start := time.Now()
	res := &Result{CycleID: uuid.NewString(), StreamID: streamID}
	log := p.log.With(slog.String("cycle_id", res.CycleID), slog.Int64("stream_id", streamID))

	err := p.capture(ctx, log, res, p.params.source(sourceURL))
	res.DurationMS = time.Since(start).Milliseconds()

	switch {
	case err != nil && res.Frames+res.Audio > 0:
		res.Partial = true
		p.metrics.IncCaptureCycle(metrics.ResultPartial)
		log.Error("capture partially uploaded",
			slog.Int("frames", res.Frames),
			slog.Int("audio", res.Audio),
			slog.String("error", err.Error()))
		return res, err
	case err != nil:
		p.metrics.IncCaptureCycle(metrics.ResultFailed)
		log.Error("capture failed",
			slog.String("error", err.Error()),
			slog.String("diagnostics", ffmpeg.Diagnostics(err)))
		return nil, err
	case res.FramesOnly:
		p.metrics.IncCaptureCycle(metrics.ResultFramesOnly)
	default:
		p.metrics.IncCaptureCycle(metrics.ResultOK)
	}

	log.Info("capture complete",
		slog.Int("frames", res.Frames),
		slog.Int("audio", res.Audio),
		slog.Bool("frames_only", res.FramesOnly),
		slog.Int64("duration_ms", res.DurationMS))
	return res, nil
}

func (p *Pipeline) capture(ctx context.Context, log *slog.Logger, res *Result, src ffmpeg.Source) error {
	existingFrames, err := p.assets.List(ctx, res.StreamID, asset.KindFrames)
	if err != nil {
		return fmt.Errorf("list frames: %w", err)
	}
	existingAudio, err := p.assets.List(ctx, res.StreamID, asset.KindAudio)
	if err != nil {
		return fmt.Errorf("list audio: %w", err)
	}
	nextFrame := asset.NextIndex(existingFrames)
	nextAudio := asset.NextIndex(existingAudio)
	log.Debug("sequence allocated", slog.Int("next_frame", nextFrame), slog.Int("next_audio", nextAudio))

	dir, err := os.MkdirTemp(p.params.ScratchDir, fmt.Sprintf("cap_%d_", res.StreamID))
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	framesDir := filepath.Join(dir, string(asset.KindFrames))
	audioDir := filepath.Join(dir, string(asset.KindAudio))
	for _, d := range []string{framesDir, audioDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return fmt.Errorf("scratch dir: %w", err)
		}
	}

	frameCmd := ffmpeg.Command{
		Path: p.params.FFmpegPath,
		Args: ffmpeg.FrameArgs(src, ffmpeg.FrameParams{
			Duration:    p.params.Duration,
			FPS:         p.params.FPS,
			Scale:       p.params.Scale,
			Quality:     p.params.Quality,
			MaxFrames:   p.params.MaxFrames,
			StartNumber: nextFrame,
			Pattern:     filepath.Join(framesDir, framePattern),
		}),
	}
	if _, err := p.runner.Run(ctx, frameCmd, p.params.timeout()); err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}

	if err := p.extractAudio(ctx, log, src, nextAudio, audioDir); err != nil {
		res.FramesOnly = true
		res.AudioError = err.Error()
		log.Warn("audio unavailable, keeping frames only",
			slog.String("error", err.Error()),
			slog.String("diagnostics", ffmpeg.Diagnostics(err)))
	}

	n, err := p.uploadDir(ctx, framesDir, res.StreamID, asset.KindFrames)
	res.Frames = n
	if err != nil {
		return err
	}
	n, err = p.uploadDir(ctx, audioDir, res.StreamID, asset.KindAudio)
	res.Audio = n
	return err
}

// extractAudio runs segmented audio extraction. A failed or negative probe
// means no audio and nothing is run. An explicit-index failure is retried
// once unqualified. Without a prober the unqualified form runs directly.
func (p *Pipeline) extractAudio(ctx context.Context, log *slog.Logger, src ffmpeg.Source, start int, dir string) error {
	index := -1
	if p.prober != nil {
		i, found, err := p.prober.AudioStreamIndex(ctx, src)
		if err != nil {
			return err
		}
		if !found {
			return ErrNoAudioStream
		}
		index = i
	}

	err := p.runAudio(ctx, src, index, start, dir)
	if err != nil && index >= 0 {
		log.Warn("audio extraction with explicit stream failed, retrying unqualified",
			slog.Int("stream_index", index),
			slog.String("error", err.Error()))
		if err := clearDir(dir); err != nil {
			return fmt.Errorf("%w: %w", ErrAudioExtractionFailed, err)
		}
		err = p.runAudio(ctx, src, -1, start, dir)
	}
	if err != nil {
		if cerr := clearDir(dir); cerr != nil {
			log.Warn("clear audio scratch failed", slog.String("error", cerr.Error()))
		}
		return fmt.Errorf("%w: %w", ErrAudioExtractionFailed, err)
	}
	return nil
}

func (p *Pipeline) runAudio(ctx context.Context, src ffmpeg.Source, index, start int, dir string) error {
	cmd := ffmpeg.Command{
		Path: p.params.FFmpegPath,
		Args: ffmpeg.AudioArgs(src, ffmpeg.AudioParams{
			Duration:       p.params.Duration,
			StreamIndex:    index,
			Codec:          p.params.AudioCodec,
			Bitrate:        p.params.AudioBitrate,
			SegmentSeconds: p.params.AudioSegmentSeconds,
			StartNumber:    start,
			Pattern:        filepath.Join(dir, audioPattern),
		}),
	}
	_, err := p.runner.Run(ctx, cmd, p.params.timeout())
	return err
}

// uploadDir uploads regular files in dir in sequence order, stopping at the
// first failure. It returns how many were stored.
func (p *Pipeline) uploadDir(ctx context.Context, dir string, streamID int64, kind asset.Kind) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	asset.SortBySequence(names)

	n := 0
	defer func() { p.metrics.AddAssetsUploaded(string(kind), n) }()
	for _, name := range names {
		if _, err := p.assets.Upload(ctx, filepath.Join(dir, name), streamID, kind); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
