package server

import (
	"log/slog"
	"net/http"

	"tv-streamer/internal/platform/logger"
	"tv-streamer/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires h and the ambient middleware. m may be nil, in which case
// /metrics is not mounted.
func NewRouter(h *Handler, log *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(m))

	r.Get("/health", h.Health)
	r.Get("/favicon.ico", h.Favicon)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Get("/streams", h.ListStreams)
	r.Route("/streams/{stream_id}", func(r chi.Router) {
		r.Get("/live", h.Live)
		r.Post("/process", h.Process)
		r.Get("/assets", h.Assets)
		r.Get("/audio.m3u8", h.AudioPlaylist)
	})
	return r
}
