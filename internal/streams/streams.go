// Package streams reads stream metadata and records capture progress.
package streams

import (
	"context"
	"errors"
	"time"
)

// Stream is one upstream source. Only ID and SourceURL drive processing;
// SourceURL is passed to ffmpeg as-is.
type Stream struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	SourceURL     string     `json:"source_url"`
	PhotoURL      string     `json:"photo_url,omitempty"`
	LastProcessed *time.Time `json:"last_processed,omitempty"`
}

var (
	// ErrNotFound is returned when no stream has the requested id.
	ErrNotFound = errors.New("stream not found")

	// ErrEmptySourceURL is returned for a stream that has nothing to pull.
	ErrEmptySourceURL = errors.New("stream has no source url")
)

// Store is the metadata store contract.
type Store interface {
	// Get returns the stream with id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Stream, error)

	// List returns all streams ordered by id.
	List(ctx context.Context) ([]Stream, error)

	// MarkProcessed sets last_processed for id. ErrNotFound if absent.
	MarkProcessed(ctx context.Context, id int64, at time.Time) error
}
