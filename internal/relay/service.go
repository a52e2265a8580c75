package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tv-streamer/internal/ffmpeg"
	"tv-streamer/internal/platform/metrics"

	"github.com/google/uuid"
)

// StartFunc launches the encoder for one session.
type StartFunc func(ctx context.Context, c ffmpeg.Command) (Source, error)

// RunnerStart adapts an ffmpeg.Runner to a StartFunc.
func RunnerStart(r *ffmpeg.Runner) StartFunc {
	return func(ctx context.Context, c ffmpeg.Command) (Source, error) {
		s, err := r.Stream(ctx, c)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Service opens relay sessions. Sessions share no mutable state.
type Service struct {
	start      StartFunc
	ffmpegPath string
	params     ffmpeg.RelayParams
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewService returns a relay Service. m may be nil.
func NewService(start StartFunc, ffmpegPath string, params ffmpeg.RelayParams, log *slog.Logger, m *metrics.Metrics) *Service {
	if params.Boundary == "" {
		params.Boundary = ffmpeg.DefaultBoundary
	}
	return &Service{start: start, ffmpegPath: ffmpegPath, params: params, log: log, metrics: m}
}

// Session is one client's live relay, bound to one encoder process.
type Session struct {
	ID       string
	src      Source
	boundary string
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Open starts the encoder for src. The encoder is stopped when ctx is done,
// so pass the request context. Open fails before anything is written to the
// client, which lets the caller report a structured error.
func (s *Service) Open(ctx context.Context, streamID int64, src ffmpeg.Source) (*Session, error) {
	id := uuid.NewString()
	log := s.log.With(slog.String("session_id", id), slog.Int64("stream_id", streamID))

	cmd := ffmpeg.Command{Path: s.ffmpegPath, Args: ffmpeg.RelayArgs(src, s.params)}
	proc, err := s.start(ctx, cmd)
	if err != nil {
		log.Error("relay start failed", slog.String("error", err.Error()))
		return nil, err
	}

	log.Info("relay started")
	s.metrics.RelayStarted()
	return &Session{ID: id, src: proc, boundary: s.params.Boundary, log: log, metrics: s.metrics}, nil
}

// Serve streams frames to w until the client goes away or the encoder exits.
// The encoder is stopped before Serve returns.
func (sess *Session) Serve(w http.ResponseWriter, r *http.Request) {
	defer sess.metrics.RelayEnded()
	start := time.Now()

	h := w.Header()
	h.Set("Content-Type", ContentType(sess.boundary))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	d := Demuxer{
		Boundary: sess.boundary,
		OnFrame:  func(int) { sess.metrics.AddRelayFrames(1) },
	}
	frames, err := d.Run(r.Context(), sess.src, w, flush)
	procErr := sess.src.Stop()

	attrs := []any{
		slog.Int("frames", frames),
		slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
	}
	switch {
	case procErr != nil:
		attrs = append(attrs, slog.String("error", procErr.Error()), slog.String("diagnostics", ffmpeg.Diagnostics(procErr)))
		sess.log.Error("relay encoder failed", attrs...)
	case err != nil && !errors.Is(err, context.Canceled):
		attrs = append(attrs, slog.String("error", err.Error()))
		sess.log.Info("relay ended", attrs...)
	default:
		sess.log.Info("relay ended", attrs...)
	}
}
