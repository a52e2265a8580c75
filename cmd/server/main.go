package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tv-streamer/internal/capture"
	"tv-streamer/internal/ffmpeg"
	"tv-streamer/internal/platform/config"
	"tv-streamer/internal/platform/logger"
	"tv-streamer/internal/platform/metrics"
	"tv-streamer/internal/relay"
	"tv-streamer/internal/server"
	"tv-streamer/internal/storage"
	"tv-streamer/internal/streams"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	log := logger.New(logLevel, logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, log *slog.Logger) error {
	port := config.GetEnv("PORT", "8080")
	bucket := config.GetEnv("BUCKET_NAME", "")
	if bucket == "" {
		return errors.New("BUCKET_NAME is required")
	}

	profile, err := config.LoadProfile(config.GetEnv("PROFILE_FILE", ""))
	if err != nil {
		return err
	}

	bins, err := ffmpeg.LocateBinaries(config.GetEnv("FFMPEG_PATH", ""), config.GetEnv("FFPROBE_PATH", ""))
	if err != nil {
		return err
	}

	met := metrics.New()
	runner := ffmpeg.NewRunner(log, config.GetEnvDuration("KILL_GRACE", ffmpeg.DefaultGrace))

	store, closeStore, err := openStreams(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// One cached token source backs both the storage client and IAM signing.
	ts, err := storage.DefaultTokenSource(ctx)
	if err != nil {
		return err
	}
	gcsClient, err := gcs.NewClient(ctx, option.WithTokenSource(ts))
	if err != nil {
		return fmt.Errorf("storage client: %w", err)
	}
	defer gcsClient.Close()

	serviceAccount, err := storage.ResolveServiceAccount(ctx,
		config.GetEnv("SIGNING_SERVICE_ACCOUNT", config.GetEnv("GOOGLE_SERVICE_ACCOUNT_EMAIL", "")))
	if err != nil {
		return err
	}
	iamSigner, err := storage.NewIAMSigner(ctx, serviceAccount, ts)
	if err != nil {
		return err
	}
	defer iamSigner.Close()

	objects := storage.NewGCSStore(gcsClient, bucket)
	signer := storage.NewURLSigner(bucket, serviceAccount, iamSigner,
		config.GetEnvDuration("SIGNED_URL_TTL", storage.DefaultSignedURLTTL))
	uploader := storage.NewUploader(objects, config.GetEnv("UPLOAD_CACHE_CONTROL", "private, max-age=3600"), log)
	catalog := storage.NewCatalog(objects, signer, log, met)

	src := sourceSettings(profile.Source)

	var prober capture.AudioProber
	if config.GetEnvBool("PROBE_AUDIO", true) {
		prober = ffmpeg.NewProber(runner, bins.FFprobe, config.GetEnvDuration("PROBE_TIMEOUT", ffmpeg.DefaultProbeTimeout))
	}
	params := captureParams(profile.Capture, src, bins.FFmpeg)
	pipeline := capture.NewPipeline(runner, prober, uploader, params, log, met)
	captureSvc := capture.NewService(pipeline, store, log)
	scheduler := capture.NewScheduler(captureSvc,
		config.GetEnvDuration("CAPTURE_INTERVAL", 0),
		config.GetEnvInt("CAPTURE_CONCURRENCY", capture.DefaultConcurrency),
		log)

	relayParams := ffmpeg.RelayParams{
		FPS:     config.OrInt(profile.Relay.FPS, config.GetEnvInt("RELAY_FPS", 5)),
		Width:   config.OrInt(profile.Relay.Width, config.GetEnvInt("RELAY_WIDTH", 640)),
		Quality: config.OrInt(profile.Relay.Quality, config.GetEnvInt("RELAY_QUALITY", 5)),
	}
	relaySvc := relay.NewService(relay.RunnerStart(runner), bins.FFmpeg, relayParams, log, met)

	h := server.NewHandler(server.Deps{
		Streams: store,
		Relay:   relaySvc,
		Source: func(url string) ffmpeg.Source {
			s := src
			s.URL = url
			return s
		},
		Capture:      captureSvc,
		Assets:       catalog,
		AudioSegment: time.Duration(params.AudioSegmentSeconds) * time.Second,
		Log:          log,
		Metrics:      met,
	})

	// Relay responses never finish on their own; canceling the base context
	// at shutdown ends them and stops their encoders.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           server.NewRouter(h, log, met),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	log.Info("server starting",
		"port", port,
		"bucket", objects.Bucket(),
		"ffmpeg", bins.FFmpeg,
		"capture_seconds", params.Duration.Seconds(),
		"fps", params.FPS,
		"log_level", config.GetEnv("LOG_LEVEL", "info"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStreams(ctx context.Context, log *slog.Logger) (streams.Store, func(), error) {
	defaultURL := config.GetEnv("STREAM_URL_DEFAULT", "")

	dsn := config.GetEnv("DATABASE_URL", "")
	if dsn == "" {
		log.Warn("DATABASE_URL not set, using in-memory stream store")
		var seed []streams.Stream
		if defaultURL != "" {
			seed = append(seed, streams.Stream{ID: 1, Name: "default", SourceURL: defaultURL})
		}
		return streams.NewInMemoryStore(seed...), func() {}, nil
	}

	pool, err := streams.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	store := streams.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx, defaultURL); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func sourceSettings(p config.SourceProfile) ffmpeg.Source {
	return ffmpeg.Source{
		Referer:           config.OrString(p.Referer, config.GetEnv("HLS_REFERER", "")),
		UserAgent:         config.OrString(p.UserAgent, config.GetEnv("HLS_USER_AGENT", "")),
		ReconnectDelayMax: config.OrInt(p.ReconnectDelayMax, config.GetEnvInt("RECONNECT_DELAY_MAX", 5)),
		IOTimeout:         config.GetEnvDuration("IO_TIMEOUT", ffmpeg.DefaultIOTimeout),
	}
}

func captureParams(p config.CaptureProfile, src ffmpeg.Source, ffmpegPath string) capture.Params {
	seconds := config.OrInt(p.Seconds, config.GetEnvInt("CAPTURE_SECONDS", 60))
	return capture.Params{
		FFmpegPath:          ffmpegPath,
		Duration:            time.Duration(seconds) * time.Second,
		FPS:                 config.OrInt(p.FPS, config.GetEnvInt("FPS", 1)),
		Scale:               config.OrString(p.Scale, config.GetEnv("FRAME_SCALE", "640:-2")),
		Quality:             config.OrInt(p.Quality, config.GetEnvInt("FRAME_QUALITY", 0)),
		MaxFrames:           config.GetEnvInt("CAPTURE_MAX_FRAMES", 0),
		AudioSegmentSeconds: config.OrInt(p.AudioSegmentSeconds, config.GetEnvInt("AUDIO_SEGMENT_SECONDS", 10)),
		AudioCodec:          config.OrString(p.AudioCodec, config.GetEnv("AUDIO_CODEC", ffmpeg.DefaultAudioCodec)),
		AudioBitrate:        config.OrString(p.AudioBitrate, config.GetEnv("AUDIO_BITRATE", ffmpeg.DefaultBitrate)),
		Referer:             src.Referer,
		UserAgent:           src.UserAgent,
		ReconnectDelayMax:   src.ReconnectDelayMax,
		IOTimeout:           src.IOTimeout,
		TimeoutSlack:        config.GetEnvDuration("CAPTURE_TIMEOUT_SLACK", time.Minute),
		ScratchDir:          config.GetEnv("SCRATCH_DIR", ""),
	}
}
