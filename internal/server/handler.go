// Package server exposes the streamer over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tv-streamer/internal/capture"
	"tv-streamer/internal/ffmpeg"
	"tv-streamer/internal/platform/metrics"
	"tv-streamer/internal/relay"
	"tv-streamer/internal/storage"
	"tv-streamer/internal/streams"

	"github.com/go-chi/chi/v5"
)

// Processor runs a capture cycle for a stream.
type Processor interface {
	Process(ctx context.Context, streamID int64) (*capture.Result, error)
}

// AssetLister returns a stream's signed playback listing.
type AssetLister interface {
	Signed(ctx context.Context, streamID int64) (*storage.Assets, error)
	AudioPlaylist(ctx context.Context, streamID int64, segment time.Duration, window int) (string, error)
}

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler serves the streamer's HTTP endpoints.
type Handler struct {
	streams streams.Store
	relay   *relay.Service
	source  func(url string) ffmpeg.Source
	capture Processor
	assets  AssetLister
	segment time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Deps groups the Handler's collaborators.
type Deps struct {
	Streams streams.Store
	Relay   *relay.Service
	// Source builds the ffmpeg input for a stream URL, adding headers and
	// reconnect options. Nil passes the URL alone.
	Source func(url string) ffmpeg.Source
	Capture Processor
	Assets  AssetLister
	// AudioSegment is the EXTINF duration of audio playlist entries.
	AudioSegment time.Duration
	Log          *slog.Logger
	Metrics      *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil.
func NewHandler(d Deps) *Handler {
	seg := d.AudioSegment
	if seg <= 0 {
		seg = 10 * time.Second
	}
	src := d.Source
	if src == nil {
		src = func(url string) ffmpeg.Source { return ffmpeg.Source{URL: url} }
	}
	return &Handler{
		streams: d.Streams,
		relay:   d.Relay,
		source:  src,
		capture: d.Capture,
		assets:  d.Assets,
		segment: seg,
		log:     d.Log,
		metrics: d.Metrics,
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	// Result is set when a capture stored some assets before failing.
	Result *capture.Result `json:"result,omitempty"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Favicon handles GET /favicon.ico.
func (h *Handler) Favicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	list, err := h.streams.List(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if list == nil {
		list = []streams.Stream{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Live handles GET /streams/{stream_id}/live with a multipart MJPEG relay.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	st, ok := h.stream(w, r)
	if !ok {
		return
	}
	if st.SourceURL == "" {
		h.writeError(w, r, streams.ErrEmptySourceURL, nil)
		return
	}

	sess, err := h.relay.Open(r.Context(), st.ID, h.source(st.SourceURL))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	sess.Serve(w, r)
}

// Process handles POST /streams/{stream_id}/process.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}

	res, err := h.capture.Process(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Assets handles GET /streams/{stream_id}/assets.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}

	a, err := h.assets.Signed(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AudioPlaylist handles GET /streams/{stream_id}/audio.m3u8. The optional
// "window" query keeps only the newest segments.
func (h *Handler) AudioPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := h.streamID(w, r)
	if !ok {
		return
	}
	window := 0
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_window"})
			return
		}
		window = n
	}

	m3u8, err := h.assets.AudioPlaylist(r.Context(), id, h.segment, window)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(m3u8))
}

func (h *Handler) streamID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "stream_id"), 10, 64)
	if err != nil || id < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_stream_id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) (*streams.Stream, bool) {
	id, ok := h.streamID(w, r)
	if !ok {
		return nil, false
	}
	st, err := h.streams.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, nil)
		return nil, false
	}
	return st, true
}

// writeError maps err to a status and a short machine-readable kind.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, res *capture.Result) {
	status, kind := classify(err)
	body := errorBody{Error: kind, Detail: ffmpeg.Diagnostics(err), Result: res}

	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", attrs...)
	} else {
		h.log.Info("request rejected", attrs...)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, streams.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, streams.ErrEmptySourceURL):
		return http.StatusBadRequest, "empty_source_url"
	case errors.Is(err, capture.ErrCaptureInProgress):
		return http.StatusConflict, "capture_in_progress"
	case errors.Is(err, ffmpeg.ErrSpawnFailed):
		return http.StatusInternalServerError, "spawn_failed"
	case errors.Is(err, ffmpeg.ErrTimedOut):
		return http.StatusGatewayTimeout, "process_timed_out"
	case errors.Is(err, ffmpeg.ErrProcessFailed):
		return http.StatusBadGateway, "process_failed"
	case errors.Is(err, storage.ErrUploadFailed):
		return http.StatusBadGateway, "upload_failed"
	case errors.Is(err, storage.ErrSigningFailed):
		return http.StatusBadGateway, "signing_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, ffmpeg.ErrCanceled):
		// nginx's "client closed request"; nobody reads it.
		return 499, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
