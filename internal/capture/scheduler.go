package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tv-streamer/internal/streams"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds parallel cycles per scheduler tick.
const DefaultConcurrency = 2

// Scheduler captures every stream with a source URL on a fixed interval.
type Scheduler struct {
	svc         *Service
	interval    time.Duration
	concurrency int
	log         *slog.Logger
}

// NewScheduler returns a Scheduler. A non-positive interval disables it.
func NewScheduler(svc *Service, interval time.Duration, concurrency int, log *slog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{svc: svc, interval: interval, concurrency: concurrency, log: log}
}

// Run ticks until ctx is done. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.log.Info("capture scheduler disabled")
		return nil
	}
	s.log.Info("capture scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("concurrency", s.concurrency))

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// RunOnce captures all eligible streams and waits for them to finish.
// Failures are logged per stream and do not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	list, err := s.svc.streams.List(ctx)
	if err != nil {
		s.log.Error("list streams failed", slog.String("error", err.Error()))
		return
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, st := range list {
		if st.SourceURL == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		st := st
		g.Go(func() error {
			_, err := s.svc.process(ctx, st)
			switch {
			case err == nil:
			case errors.Is(err, ErrCaptureInProgress):
				s.log.Debug("capture skipped, already running", slog.Int64("stream_id", st.ID))
			case errors.Is(err, streams.ErrEmptySourceURL):
			default:
				s.log.Warn("scheduled capture failed",
					slog.Int64("stream_id", st.ID),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
}
