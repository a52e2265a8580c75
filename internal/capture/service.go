package capture

import (
	"context"
	"log/slog"
	"time"

	"tv-streamer/internal/streams"
)

// Service resolves a stream and runs a capture cycle for it, recording
// last_processed when the cycle completes.
type Service struct {
	pipeline *Pipeline
	streams  streams.Store
	log      *slog.Logger
	now      func() time.Time
}

// NewService returns a Service.
func NewService(p *Pipeline, store streams.Store, log *slog.Logger) *Service {
	return &Service{pipeline: p, streams: store, log: log, now: time.Now}
}

// Process captures streamID. A partial cycle returns its Result with the
// error and does not update last_processed.
func (s *Service) Process(ctx context.Context, streamID int64) (*Result, error) {
	st, err := s.streams.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, *st)
}

func (s *Service) process(ctx context.Context, st streams.Stream) (*Result, error) {
	if st.SourceURL == "" {
		return nil, streams.ErrEmptySourceURL
	}

	res, err := s.pipeline.Capture(ctx, st.ID, st.SourceURL)
	if err != nil {
		return res, err
	}

	if err := s.streams.MarkProcessed(ctx, st.ID, s.now()); err != nil {
		// The assets are stored; a stale timestamp is only cosmetic.
		s.log.Warn("mark processed failed",
			slog.Int64("stream_id", st.ID),
			slog.String("error", err.Error()))
	}
	return res, nil
}
