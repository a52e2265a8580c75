package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tv-streamer/internal/asset"
)

// Uploader writes local asset files under their canonical object names.
type Uploader struct {
	store        ObjectStore
	cacheControl string
	log          *slog.Logger
}

// NewUploader returns an Uploader. cacheControl may be empty.
func NewUploader(store ObjectStore, cacheControl string, log *slog.Logger) *Uploader {
	return &Uploader{store: store, cacheControl: cacheControl, log: log}
}

// Upload stores the file at localPath as "{streamID}/{kind}/{basename}" and
// returns the object name.
func (u *Uploader) Upload(ctx context.Context, localPath string, streamID int64, kind asset.Kind) (string, error) {
	name := asset.ObjectName(streamID, kind, filepath.Base(localPath))

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUploadFailed, name, err)
	}
	defer f.Close()

	attrs := ObjectAttrs{ContentType: ContentTypeFor(localPath), CacheControl: u.cacheControl}
	if err := u.store.Put(ctx, name, f, attrs); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	u.log.Debug("asset uploaded", slog.String("object", name), slog.String("content_type", attrs.ContentType))
	return name, nil
}

// List returns the object names stored for a stream and kind.
func (u *Uploader) List(ctx context.Context, streamID int64, kind asset.Kind) ([]string, error) {
	return u.store.List(ctx, asset.Prefix(streamID, kind))
}
