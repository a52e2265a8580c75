package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"tv-streamer/internal/asset"
	"tv-streamer/internal/platform/metrics"
)

// URLIssuer issues a read URL for one object.
type URLIssuer interface {
	SignedURL(ctx context.Context, object, contentType string) (string, error)
}

// Assets is the signed playback listing for one stream.
type Assets struct {
	Frames []string `json:"frames"`
	Audios []string `json:"audios"`
}

var (
	frameExts = []string{".webp"}
	audioExts = []string{".ogg", ".mp3", ".m4a"}
)

// Catalog lists a stream's assets and signs a URL for each.
type Catalog struct {
	store   ObjectStore
	issuer  URLIssuer
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewCatalog returns a Catalog. m may be nil.
func NewCatalog(store ObjectStore, issuer URLIssuer, log *slog.Logger, m *metrics.Metrics) *Catalog {
	return &Catalog{store: store, issuer: issuer, log: log, metrics: m}
}

// Signed lists frames and audio segments in sequence order and returns a
// signed URL for each. Any signing failure fails the whole listing with
// ErrSigningFailed.
func (c *Catalog) Signed(ctx context.Context, streamID int64) (*Assets, error) {
	frames, err := c.sign(ctx, streamID, asset.KindFrames, frameExts)
	if err != nil {
		return nil, err
	}
	audios, err := c.sign(ctx, streamID, asset.KindAudio, audioExts)
	if err != nil {
		return nil, err
	}
	return &Assets{Frames: frames, Audios: audios}, nil
}

// AudioPlaylist renders the stream's audio segments as an M3U8 playlist of
// signed URLs. A positive window keeps only the newest segments and leaves
// the playlist open; otherwise the full history is listed and ended.
func (c *Catalog) AudioPlaylist(ctx context.Context, streamID int64, segment time.Duration, window int) (string, error) {
	names, err := c.list(ctx, streamID, asset.KindAudio, audioExts)
	if err != nil {
		return "", err
	}
	if window > 0 && len(names) > window {
		names = names[len(names)-window:]
	}

	urls, err := c.signAll(ctx, streamID, names)
	if err != nil {
		return "", err
	}
	entries := make([]PlaylistEntry, len(names))
	for i, n := range names {
		seq, _ := asset.Sequence(n)
		entries[i] = PlaylistEntry{Sequence: seq, Duration: segment.Seconds(), URI: urls[i]}
	}
	return BuildPlaylist(entries, window <= 0), nil
}

func (c *Catalog) sign(ctx context.Context, streamID int64, kind asset.Kind, exts []string) ([]string, error) {
	names, err := c.list(ctx, streamID, kind, exts)
	if err != nil {
		return nil, err
	}
	return c.signAll(ctx, streamID, names)
}

// list returns names under kind with one of exts, in sequence order.
func (c *Catalog) list(ctx context.Context, streamID int64, kind asset.Kind, exts []string) ([]string, error) {
	names, err := c.store.List(ctx, asset.Prefix(streamID, kind))
	if err != nil {
		return nil, err
	}

	kept := names[:0]
	for _, n := range names {
		if hasExt(n, exts) {
			kept = append(kept, n)
		}
	}
	asset.SortBySequence(kept)
	return kept, nil
}

func (c *Catalog) signAll(ctx context.Context, streamID int64, names []string) ([]string, error) {
	urls := make([]string, 0, len(names))
	for _, n := range names {
		u, err := c.issuer.SignedURL(ctx, n, ContentTypeFor(n))
		if err != nil {
			if !errors.Is(err, ErrSigningFailed) {
				err = fmt.Errorf("%w: %s: %w", ErrSigningFailed, n, err)
			}
			c.metrics.IncSigningFailures()
			c.log.Error("sign asset url failed",
				slog.Int64("stream_id", streamID),
				slog.String("object", n),
				slog.String("error", err.Error()))
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
