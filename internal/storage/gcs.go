package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore is an ObjectStore backed by a Cloud Storage bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore wraps the named bucket. The client is owned by the caller.
func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket), name: bucket}
}

// Bucket returns the bucket name.
func (s *GCSStore) Bucket() string { return s.name }

// Put implements ObjectStore.Put. The object only becomes visible when the
// writer closes cleanly; a copy error cancels the upload. The DoesNotExist
// precondition keeps earlier assets from being overwritten.
func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader, attrs ObjectAttrs) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.name, name, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return fmt.Errorf("gs://%s/%s: %w", s.name, name, ErrObjectExists)
		}
		return fmt.Errorf("close gs://%s/%s: %w", s.name, name, err)
	}
	return nil
}

// List implements ObjectStore.List.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	q := &storage.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var names []string
	it := s.bucket.Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.name, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
